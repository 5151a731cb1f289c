package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ListKeys are the envelope keys probed, in order, for the item array of a
// listing response.
var ListKeys = []string{"types", "data", "results", "items"}

// IDKeys are the object keys probed, in order, for a record identifier.
var IDKeys = []string{"id", "type_id", "typeId"}

// Items returns the item array of a listing payload. The payload may be a bare
// array or an object wrapping the array under one of ListKeys. Anything else
// yields nil.
func Items(payload json.RawMessage) []json.RawMessage {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}

	switch payload[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil
		}
		return items
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil
		}
		for _, key := range ListKeys {
			raw, ok := envelope[key]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err == nil && items != nil {
				return items
			}
		}
	}
	return nil
}

// ExtractID returns the identifier of a summary object, probing IDKeys in
// order. Numeric strings are accepted. Zero and negative values are rejected.
func ExtractID(item json.RawMessage) (ID, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		return 0, false
	}

	for _, key := range IDKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if id, ok := parseID(raw); ok {
			return id, true
		}
	}
	return 0, false
}

func parseID(raw json.RawMessage) (ID, bool) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0, false
	}

	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || i <= 0 {
		return 0, false
	}
	return ID(i), true
}

// ExtractIDs returns the identifiers of all items in a listing payload.
func ExtractIDs(payload json.RawMessage) []ID {
	items := Items(payload)
	ids := make([]ID, 0, len(items))
	for _, item := range items {
		if id, ok := ExtractID(item); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the total result count of a listing payload. Object payloads
// must carry a positive numeric "count"; bare arrays count their elements.
// ok is false when no usable count is available.
func Count(payload json.RawMessage) (int, bool) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return 0, false
	}

	if payload[0] == '[' {
		n := len(Items(payload))
		return n, n > 0
	}

	var envelope struct {
		Count *json.Number `json:"count"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Count == nil {
		return 0, false
	}
	n, err := envelope.Count.Int64()
	if err != nil {
		f, ferr := envelope.Count.Float64()
		if ferr != nil {
			return 0, false
		}
		n = int64(f)
	}
	if n <= 0 {
		return 0, false
	}
	return int(n), true
}

// IssuerCodes returns the issuer codes of an /issuers payload, which is either
// an object with an "issuers" array or a bare array of issuer objects.
func IssuerCodes(payload json.RawMessage) []string {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}

	var issuers []json.RawMessage
	if payload[0] == '{' {
		var envelope struct {
			Issuers []json.RawMessage `json:"issuers"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil
		}
		issuers = envelope.Issuers
	} else if err := json.Unmarshal(payload, &issuers); err != nil {
		return nil
	}

	codes := make([]string, 0, len(issuers))
	for _, raw := range issuers {
		var issuer struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(raw, &issuer); err != nil || issuer.Code == "" {
			continue
		}
		codes = append(codes, issuer.Code)
	}
	return codes
}
