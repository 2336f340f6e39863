// Package election picks, among the processes sharing one index location,
// the single executive allowed to write. Every process keeps a presence
// record; the executive additionally holds the claim record, created with
// a create-if-absent primitive of a pluggable ClaimStore and renewed on a
// heartbeat. Claims not renewed within the stale threshold are purged and
// contested again.
package election

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ClaimKey is the key of the executive claim.
	ClaimKey       = "executive.claim"
	claimSuffix    = ".claim"
	presenceSuffix = ".presence"
	// Encoding is declared in every serialised record.
	Encoding = "utf-8"
)

// Record is a claim or presence record. Leader is only meaningful on
// presence records.
type Record struct {
	Owner   string
	Created time.Time
	Updated time.Time
	Leader  bool
}

// Stale reports whether the record was not renewed within threshold.
func (r Record) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.Updated) >= threshold
}

// Entry is a keyed record as returned by List.
type Entry struct {
	Key    string
	Record Record
}

// ClaimStore is the shared storage the election runs over. Create must be
// atomic: of several concurrent creators of one key exactly one succeeds.
type ClaimStore interface {
	// Put creates or overwrites key.
	Put(ctx context.Context, key string, rec Record) error
	// Create writes key only if it is absent and reports whether it did.
	Create(ctx context.Context, key string, rec Record) (bool, error)
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Entry, error)
}

// PresenceKey returns the presence key of identity.
func PresenceKey(identity string) string {
	return identity + presenceSuffix
}

func IsClaim(key string) bool {
	return strings.HasSuffix(key, claimSuffix)
}

func IsPresence(key string) bool {
	return strings.HasSuffix(key, presenceSuffix)
}

// MarshalRecord renders rec as a textual key=value map, one pair per line,
// headed by the declared encoding.
func MarshalRecord(rec Record) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "encoding=%s\n", Encoding)
	fmt.Fprintf(&b, "owner=%s\n", escape(rec.Owner))
	fmt.Fprintf(&b, "created=%s\n", rec.Created.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "updated=%s\n", rec.Updated.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "leader=%t\n", rec.Leader)
	return b.Bytes()
}

// UnmarshalRecord parses MarshalRecord output. Unknown keys are ignored so
// newer writers can add fields.
func UnmarshalRecord(data []byte) (Record, error) {
	var rec Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return Record{}, fmt.Errorf("malformed record line %q", line)
		}
		var err error
		switch k {
		case "encoding":
			if !strings.EqualFold(v, Encoding) {
				return Record{}, fmt.Errorf("unsupported record encoding %q", v)
			}
		case "owner":
			rec.Owner = unescape(v)
		case "created":
			rec.Created, err = time.Parse(time.RFC3339Nano, v)
		case "updated":
			rec.Updated, err = time.Parse(time.RFC3339Nano, v)
		case "leader":
			rec.Leader, err = strconv.ParseBool(v)
		}
		if err != nil {
			return Record{}, fmt.Errorf("parsing record field %s: %w", k, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Record{}, fmt.Errorf("reading record: %w", err)
	}
	return rec, nil
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escape(s string) string { return escaper.Replace(s) }

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
