package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var errNilResponse = errors.New("cache response required")

// prepareRecords 深拷贝待写入条目并补齐 StoredAt，避免调用方后续修改影响缓存。
func prepareRecords(records []Record, now time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		cloned := rec
		cloned.Response = *rec.Response.Clone()
		if cloned.StoredAt.IsZero() {
			cloned.StoredAt = now
		}
		out = append(out, cloned)
	}
	return out
}

func encodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode cache record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode cache record: %w", err)
	}
	if rec.Response.Header == nil {
		rec.Response.Header = http.Header{}
	}
	return rec, nil
}

// validateName 拒绝空名称以及会破坏 key 前缀 / 目录布局的字符。
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("cache name required")
	}
	if strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return fmt.Errorf("invalid cache name: %q", name)
	}
	return nil
}
