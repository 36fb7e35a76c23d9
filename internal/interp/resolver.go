package interp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flynn/json5"
)

// Resolver looks up insert keys: special synthetic keys first, then the
// store (with an optional per-call overlay), then the inserts directory.
type Resolver struct {
	Store *Store
	Dir   string // optional fallback directory, "" to disable

	extra map[string]any
	now   func() time.Time
}

// NewResolver builds a resolver over store with an optional inserts
// directory.
func NewResolver(store *Store, dir string) *Resolver {
	return &Resolver{Store: store, Dir: dir, now: time.Now}
}

// WithExtra returns a resolver that additionally consults extra before
// the store. Used for replace_map capture bindings.
func (r *Resolver) WithExtra(extra map[string]any) *Resolver {
	out := *r
	out.extra = extra
	return &out
}

// WithClock fixes the wall clock, for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	out := *r
	out.now = now
	return &out
}

// Lookup resolves key to a value or an interpolation fault.
func (r *Resolver) Lookup(key string) (any, error) {
	switch {
	case key == "HH:MM":
		return r.now().Format("15:04"), nil
	case key == "HH:MM:SS":
		return r.now().Format("15:04:05"), nil
	case isArgKey(key):
		if v, ok := r.Store.Get(key); ok {
			return v, nil
		}
		return nil, missingf(key,
			"Argument interpolation key '%s' is used, but the user passed less than %s program arguments.",
			key, key[3:])
	case key == "":
		return nil, malformedf("Tried to interpolate empty string ''.")
	}

	if r.extra != nil {
		if v, ok := r.extra[key]; ok {
			return v, nil
		}
	}
	if v, ok := r.Store.Get(key); ok {
		return v, nil
	}
	if r.Dir != "" {
		if v, ok, err := r.fromDir(key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
	}

	detail := " in inserts"
	if r.Dir != "" {
		detail += fmt.Sprintf(" or inserts directory '%s'", r.Dir)
	}
	return nil, missingf(key,
		"Could not find variable '%s'%s. Available interpolation data keys are %v.",
		key, detail, r.Store.Keys())
}

// fromDir tries <dir>/<key>.json5 then <dir>/<key>. File content is
// escape-encoded so that braces in user-controlled files cannot inject
// interpolation.
func (r *Resolver) fromDir(key string) (any, bool, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir, key+".json5"))
	if err == nil {
		var v any
		if err := json5.Unmarshal(data, &v); err != nil {
			return nil, false, fmt.Errorf("parse insert file %s.json5: %w", key, err)
		}
		return EscapeValue(Normalize(v)), true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	data, err = os.ReadFile(filepath.Join(r.Dir, key))
	if err == nil {
		return EscapeString(strings.TrimSpace(string(data))), true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	return nil, false, nil
}

func isArgKey(key string) bool {
	if !strings.HasPrefix(key, "ARG") || len(key) == 3 {
		return false
	}
	for _, c := range key[3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
