package content

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrInvalidLiteral is returned when a textual literal cannot be
// parsed as any recognized Content shape.
var ErrInvalidLiteral = errors.New("content: invalid literal")

// ParseLiteral accepts the convenience textual forms the executor
// exposes alongside the binary wire format: the bare words "Nil",
// "true"/"false", a numeric literal, a quoted string, or a JSON-ish
// object/array literal.
func ParseLiteral(s string) (Content, error) {
	trimmed := strings.TrimSpace(s)

	switch trimmed {
	case "Nil", "nil", "null", "":
		return Nil{}, nil
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}

	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Float64(f), nil
	}

	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		return String(trimmed[1 : len(trimmed)-1]), nil
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return parseJSONLiteral(trimmed)
	}

	return String(trimmed), nil
}

// parseJSONLiteral decodes a JSON object or array literal via
// bson.UnmarshalExtJSON — the same "parse as extended JSON, then walk
// the resulting document" shape the teacher uses for its own
// JSON-to-BSON conversion path — and folds the resulting bson.D /
// primitive values into a Content tree.
func parseJSONLiteral(s string) (Content, error) {
	if strings.HasPrefix(s, "{") {
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(s), true, &doc); err != nil {
			return nil, errors.Wrap(err, "content: parse object literal")
		}
		return docToMap(doc), nil
	}

	var arr bson.A
	if err := bson.UnmarshalExtJSON([]byte(s), true, &arr); err != nil {
		return nil, errors.Wrap(err, "content: parse array literal")
	}
	return arrayToArray(arr), nil
}

func docToMap(doc bson.D) Map {
	out := make(Map, 0, len(doc))
	for _, elem := range doc {
		out = append(out, MapEntry{Key: elem.Key, Value: fromBSONValue(elem.Value)})
	}
	return out
}

func arrayToArray(arr bson.A) Array {
	out := make(Array, 0, len(arr))
	for _, elem := range arr {
		out = append(out, fromBSONValue(elem))
	}
	return out
}

func fromBSONValue(v any) Content {
	switch val := v.(type) {
	case nil:
		return Nil{}
	case bool:
		return Bool(val)
	case int32:
		return Float64(val)
	case int64:
		return Float64(val)
	case float64:
		return Float64(val)
	case string:
		return String(val)
	case bson.D:
		return docToMap(val)
	case bson.A:
		return arrayToArray(val)
	default:
		return String(fmt.Sprintf("%v", val))
	}
}
