package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/query"
	"github.com/tobsdb/nanoq/pkg"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__tdb_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func (r Response) Marshal() []byte {
	buf, err := json.Marshal(r)
	if err != nil {
		pkg.ErrorLog("marshal response", err)
		buf, _ = json.Marshal(NewErrorResponse(http.StatusInternalServerError, err.Error()))
	}
	return buf
}

// errorResponse maps a query error onto its status. Cancellation reads as a
// timeout, anything else as an internal error.
func errorResponse(err error) Response {
	var q_err *query.QueryError
	switch {
	case errors.As(err, &q_err):
		if query.IsAdapter(err) {
			pkg.ErrorLog("storage failure:", err)
		}
		return NewErrorResponse(q_err.Status(), q_err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewErrorResponse(http.StatusRequestTimeout, err.Error())
	}
	return NewErrorResponse(http.StatusInternalServerError, err.Error())
}

func successMessage(q query.Query, n int) string {
	switch q.Action {
	case query.ActionUpsert:
		return fmt.Sprintf("Upserted %d rows in table %s", n, q.Table)
	case query.ActionDelete:
		return fmt.Sprintf("Deleted %d rows in table %s", n, q.Table)
	case query.ActionCreateTable:
		return fmt.Sprintf("Created %d tables", n)
	case query.ActionAlterTable:
		return "Altered table"
	case query.ActionDropTable:
		return fmt.Sprintf("Dropped table %s", q.Table)
	case query.ActionDescribe:
		return fmt.Sprintf("Described table %s", q.Table)
	case query.ActionShowTables:
		return fmt.Sprintf("Found %d tables", n)
	case query.ActionRebuildIndexes:
		return fmt.Sprintf("Rebuilt %d indexes on table %s", n, q.Table)
	}
	return fmt.Sprintf("Found %d rows in table %s", n, q.Table)
}

func successStatus(action query.Action) int {
	if action == query.ActionCreateTable {
		return http.StatusCreated
	}
	return http.StatusOK
}

// HandleRequest runs one raw request against db and hands every response
// message to write. Query failures become error responses; only write
// failures are returned.
func HandleRequest(ctx context.Context, db *builder.Database, raw []byte, write func(Response) error) error {
	req, err := ParseRequest(raw)
	if err != nil {
		var envelope struct {
			ReqId int `json:"__tdb_client_req_id__"`
		}
		json.Unmarshal(raw, &envelope)
		res := NewErrorResponse(http.StatusBadRequest, err.Error())
		res.ReqId = envelope.ReqId
		return write(res)
	}

	q := req.Query()
	rows := []builder.Row{}
	sent := 0
	var write_err error
	err = query.Exec(ctx, db, q, func(row builder.Row) error {
		if !req.Stream {
			rows = append(rows, row)
			return nil
		}
		res := NewResponse(http.StatusPartialContent, "", row)
		res.ReqId = req.ReqId
		if err := write(res); err != nil {
			write_err = err
			return err
		}
		sent++
		return nil
	})
	if write_err != nil {
		return write_err
	}

	var res Response
	switch {
	case err != nil:
		pkg.DebugLog("request failed", q.Action, q.Table, err)
		res = errorResponse(err)
	case req.Stream:
		res = NewResponse(successStatus(q.Action), successMessage(q, sent), nil)
	default:
		res = NewResponse(successStatus(q.Action), successMessage(q, len(rows)), rows)
	}
	res.ReqId = req.ReqId
	return write(res)
}
