package conn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tobsdb/nanoq/internal/query"
	"github.com/xeipuuv/gojsonschema"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {
      "type": "string",
      "enum": ["select", "upsert", "delete", "create table", "alter table", "drop table",
               "describe", "show tables", "rebuild indexes"]
    },
    "table": {"type": "string"},
    "select": {"$ref": "#/definitions/names"},
    "where": {"$ref": "#/definitions/where"},
    "having": {"type": ["array", "null"]},
    "group_by": {"$ref": "#/definitions/names"},
    "order_by": {"$ref": "#/definitions/names"},
    "graph": {"type": "array", "items": {"$ref": "#/definitions/graph"}},
    "data": {},
    "limit": {"type": "integer", "minimum": 0},
    "offset": {"type": "integer", "minimum": 0},
    "stream": {"type": "boolean"},
    "__tdb_client_req_id__": {"type": "integer"}
  },
  "additionalProperties": false,
  "definitions": {
    "names": {"type": "array", "items": {"type": "string"}},
    "where": {
      "oneOf": [
        {"type": "array"},
        {"type": "null"},
        {
          "type": "object",
          "required": ["expr"],
          "properties": {"expr": {"type": "string"}},
          "additionalProperties": false
        }
      ]
    },
    "graph": {
      "type": "object",
      "required": ["key", "table", "on"],
      "properties": {
        "key": {"type": "string", "minLength": 1},
        "table": {"type": "string"},
        "on": {"type": "array"},
        "single": {"type": "boolean"},
        "select": {"$ref": "#/definitions/names"},
        "order_by": {"$ref": "#/definitions/names"},
        "limit": {"type": "integer", "minimum": 0},
        "graph": {"type": "array", "items": {"$ref": "#/definitions/graph"}}
      },
      "additionalProperties": false
    }
  }
}`

var request_schema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		panic(err)
	}
	request_schema = s
}

type GraphRequest struct {
	Key     string         `json:"key"`
	Table   string         `json:"table"`
	On      any            `json:"on"`
	Single  bool           `json:"single"`
	Select  []string       `json:"select"`
	OrderBy []string       `json:"order_by"`
	Limit   int            `json:"limit"`
	Graph   []GraphRequest `json:"graph"`
}

type Request struct {
	Action  query.Action   `json:"action"`
	Table   string         `json:"table"`
	Select  []string       `json:"select"`
	Where   any            `json:"where"`
	Having  any            `json:"having"`
	GroupBy []string       `json:"group_by"`
	OrderBy []string       `json:"order_by"`
	Graph   []GraphRequest `json:"graph"`
	Data    any            `json:"data"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	// send every row as its own message before the final response
	Stream bool `json:"stream"`
	ReqId  int  `json:"__tdb_client_req_id__"`
}

// ParseRequest validates raw against the request envelope and decodes it.
// Numbers are kept exact so integer keys survive the trip.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	result, err := request_schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return req, fmt.Errorf("Invalid request: %s", err.Error())
	}
	if !result.Valid() {
		errs := []string{}
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return req, fmt.Errorf("Invalid request: %s", strings.Join(errs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("Invalid request: %s", err.Error())
	}
	return req, nil
}

// whereArg turns {"expr": "..."} into a query.Expr and passes arrays through.
func whereArg(where any) any {
	if m, ok := where.(map[string]any); ok {
		if expr, ok := m["expr"].(string); ok {
			return query.Expr(expr)
		}
	}
	return where
}

func graphArgs(reqs []GraphRequest) []query.GraphArgs {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]query.GraphArgs, len(reqs))
	for i, g := range reqs {
		out[i] = query.GraphArgs{
			Key:     g.Key,
			Table:   g.Table,
			On:      g.On,
			Single:  g.Single,
			Select:  g.Select,
			OrderBy: g.OrderBy,
			Limit:   g.Limit,
			Graph:   graphArgs(g.Graph),
		}
	}
	return out
}

func (r Request) Query() query.Query {
	return query.Query{
		Table:   r.Table,
		Action:  r.Action,
		Select:  r.Select,
		Where:   whereArg(r.Where),
		Having:  r.Having,
		GroupBy: r.GroupBy,
		OrderBy: r.OrderBy,
		Graph:   graphArgs(r.Graph),
		Data:    r.Data,
		Limit:   r.Limit,
		Offset:  r.Offset,
	}
}
