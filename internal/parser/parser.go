// Package parser turns one JSONL log line into a usage record or a
// classified parse failure.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sdpower/clauditor-go/internal/types"
)

// SyntheticModel marks entries the client writes for locally generated
// messages. They carry no billable usage.
const SyntheticModel = "<synthetic>"

var minTimestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var tokenFields = []string{
	"input_tokens",
	"output_tokens",
	"cache_creation_input_tokens",
	"cache_read_input_tokens",
}

// Parse parses a single line. The returned error, when non-nil, is always
// a *types.ParseFailure. Unknown fields are ignored.
func Parse(line []byte, sourceID string) (types.UsageRecord, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return types.UsageRecord{}, &types.ParseFailure{Kind: types.MalformedJSON, Err: err}
	}
	if raw == nil {
		return types.UsageRecord{}, &types.ParseFailure{Kind: types.MalformedJSON, Err: errors.New("line is not a JSON object")}
	}

	rec := types.UsageRecord{SourceID: sourceID}

	ts, err := parseTimestamp(raw["timestamp"])
	if err != nil {
		return types.UsageRecord{}, &types.ParseFailure{Kind: types.MissingRequiredField, Field: "timestamp", Err: err}
	}
	rec.Timestamp = ts

	message, _ := raw["message"].(map[string]interface{})

	usage, ok := message["usage"].(map[string]interface{})
	if !ok {
		usage, ok = raw["usage"].(map[string]interface{})
	}
	if !ok {
		return types.UsageRecord{}, &types.ParseFailure{Kind: types.UnrecognizedSchema, Field: "usage", Err: errors.New("no usage block")}
	}

	if model, ok := message["model"].(string); ok {
		rec.Model = model
	} else if model, ok := raw["model"].(string); ok {
		rec.Model = model
	}
	if rec.Model == SyntheticModel {
		return types.UsageRecord{}, &types.ParseFailure{Kind: types.UnrecognizedSchema, Field: "model", Err: errors.New("synthetic entry")}
	}

	tokens, err := parseTokens(usage)
	if err != nil {
		return types.UsageRecord{}, err
	}
	rec.Tokens = tokens

	if cost, ok := parseCost(raw); ok {
		rec.Cost = &cost
	}

	rec.DedupKey = dedupKey(raw, message)
	return rec, nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	var ts time.Time
	switch t := v.(type) {
	case nil:
		return time.Time{}, errors.New("missing")
	case string:
		s := strings.TrimSpace(t)
		var parseErr error
		for _, format := range timestampFormats {
			ts, parseErr = time.Parse(format, s)
			if parseErr == nil {
				break
			}
		}
		if parseErr != nil {
			return time.Time{}, fmt.Errorf("unparseable %q", t)
		}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, errors.New("not a finite number")
		}
		// Millisecond epochs show up in some exports.
		if t > 1e12 {
			ts = time.UnixMilli(int64(t))
		} else {
			sec, frac := math.Modf(t)
			ts = time.Unix(int64(sec), int64(frac*1e9))
		}
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}

	if ts.Before(minTimestamp) {
		return time.Time{}, fmt.Errorf("implausible timestamp %s", ts.Format(time.RFC3339))
	}
	return ts.UTC(), nil
}

func parseTokens(usage map[string]interface{}) (types.TokenCounts, error) {
	var counts [4]int
	found := 0
	for i, field := range tokenFields {
		v, present := usage[field]
		if !present || v == nil {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			return types.TokenCounts{}, &types.ParseFailure{Kind: types.MissingRequiredField, Field: field, Err: errors.New("not a number")}
		}
		if n < 0 || math.IsNaN(n) {
			return types.TokenCounts{}, &types.ParseFailure{Kind: types.MissingRequiredField, Field: field, Err: errors.New("negative token count")}
		}
		counts[i] = int(n)
		found++
	}
	if found == 0 {
		return types.TokenCounts{}, &types.ParseFailure{Kind: types.MissingRequiredField, Field: "usage", Err: errors.New("no token fields")}
	}
	return types.TokenCounts{
		InputTokens:              counts[0],
		OutputTokens:             counts[1],
		CacheCreationInputTokens: counts[2],
		CacheReadInputTokens:     counts[3],
	}, nil
}

func parseCost(raw map[string]interface{}) (float64, bool) {
	for _, key := range []string{"costUSD", "cost"} {
		if c, ok := raw[key].(float64); ok && c >= 0 && !math.IsInf(c, 0) {
			return c, true
		}
	}
	return 0, false
}

// dedupKey follows the messageId:requestId convention and falls back to
// whichever identifier is present.
func dedupKey(raw, message map[string]interface{}) string {
	messageID, _ := message["id"].(string)
	requestID, _ := raw["requestId"].(string)
	if requestID == "" {
		requestID, _ = raw["request_id"].(string)
	}

	switch {
	case messageID != "" && requestID != "":
		return messageID + ":" + requestID
	case messageID != "":
		return messageID
	default:
		return requestID
	}
}
