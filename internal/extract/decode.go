package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// DecodeRecords parses a result body into raw records. Object keys other
// than "id" and "order" become fields in the order they appear. Non-string
// values are kept as their JSON text; null becomes "".
func DecodeRecords(raw []byte) ([]core.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if tok == nil {
		return []core.RawRecord{}, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("decode result: expected array, got %v", tok)
	}

	records := []core.RawRecord{}
	for i := 0; dec.More(); i++ {
		rec, err := decodeRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("decode result item %d: %w", i, err)
		}
		records = append(records, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return records, nil
}

func decodeRecord(dec *json.Decoder) (core.RawRecord, error) {
	var rec core.RawRecord

	tok, err := dec.Token()
	if err != nil {
		return rec, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return rec, fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return rec, err
		}
		key, _ := keyTok.(string)

		var v any
		if err := dec.Decode(&v); err != nil {
			return rec, fmt.Errorf("field %q: %w", key, err)
		}

		switch key {
		case "id":
			rec.ID = textValue(v)
		case "order":
			order, err := orderValue(v)
			if err != nil {
				return rec, err
			}
			rec.Order = order
		default:
			rec.Fields = rec.Fields.Set(key, textValue(v))
		}
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return rec, err
	}
	return rec, nil
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		bs, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(bs)
	}
}

func orderValue(v any) (*int, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("order: unsupported value %v", v)
	}

	if n, err := strconv.Atoi(s); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, fmt.Errorf("order: %q is not an integer", s)
	}
	n := int(f)
	return &n, nil
}
