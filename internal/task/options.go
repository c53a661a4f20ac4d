package task

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Option keys understood by FromMap and produced by ToMap.
const (
	KeyLoggerNamespace = "loggernamespace"
	KeyDryRun          = "dryrun"
	KeyFailOnException = "fail_on_exception"
	KeyProgress        = "progress"
	KeyShowProgress    = "showprogress" // legacy spelling of KeyProgress
	KeyQuick           = "quick"
	KeyForce           = "force"
	KeyVerbose         = "verbose"
	KeyIncludeArchives = "includearchives"
	KeyDate            = "date"
)

// DateLayout is the format of the date option.
const DateLayout = "2006-01-02"

// Options is the configuration handed to a task. Nil pointer fields are unset
// and never override another layer; Extra carries task-specific keys the
// framework does not interpret.
type Options struct {
	LoggerNamespace string
	DryRun          *bool
	FailOnException *bool
	Progress        *bool
	Quick           *bool
	Force           *bool
	Verbose         *bool
	IncludeArchives *bool
	Date            *time.Time
	Extra           map[string]any
}

// Bool returns a pointer to v, for filling Options literals.
func Bool(v bool) *bool { return &v }

// Date returns a pointer to the given calendar day.
func Date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

// Clone returns a copy of o that shares no mutable state with it.
func (o Options) Clone() Options {
	cp := o
	cp.DryRun = clonePtr(o.DryRun)
	cp.FailOnException = clonePtr(o.FailOnException)
	cp.Progress = clonePtr(o.Progress)
	cp.Quick = clonePtr(o.Quick)
	cp.Force = clonePtr(o.Force)
	cp.Verbose = clonePtr(o.Verbose)
	cp.IncludeArchives = clonePtr(o.IncludeArchives)
	cp.Date = clonePtr(o.Date)
	if o.Extra != nil {
		cp.Extra = maps.Clone(o.Extra)
	}
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Override returns o with every field set in over replacing its value.
// Extra maps are merged key by key, over winning.
func (o Options) Override(over Options) Options {
	out := o.Clone()
	if over.LoggerNamespace != "" {
		out.LoggerNamespace = over.LoggerNamespace
	}
	pick(&out.DryRun, over.DryRun)
	pick(&out.FailOnException, over.FailOnException)
	pick(&out.Progress, over.Progress)
	pick(&out.Quick, over.Quick)
	pick(&out.Force, over.Force)
	pick(&out.Verbose, over.Verbose)
	pick(&out.IncludeArchives, over.IncludeArchives)
	pick(&out.Date, over.Date)
	if len(over.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(over.Extra))
		}
		maps.Copy(out.Extra, over.Extra)
	}
	return out
}

func pick[T any](dst **T, src *T) {
	if src != nil {
		*dst = clonePtr(src)
	}
}

// ChildNamespace joins a parent namespace and a child identity.
func ChildNamespace(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "." + id
}

// Derive computes the effective options of child id run by a pipeline or an
// orchestrator whose own namespace is parentNS: the parent's base options,
// overridden by the child's own overrides, with the namespace always derived
// from the parent. Neither layer can override the derived namespace.
func Derive(base, override Options, parentNS, id string) Options {
	eff := base.Override(override)
	eff.LoggerNamespace = ChildNamespace(parentNS, id)
	return eff
}

func flag(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// IsDryRun reports whether side effects must be stubbed. Defaults to false.
func (o Options) IsDryRun() bool { return flag(o.DryRun, false) }

// FailFast reports the fail_on_exception policy. Defaults to true.
func (o Options) FailFast() bool { return flag(o.FailOnException, true) }

// ShowProgress reports whether progress should be reported. Defaults to true.
func (o Options) ShowProgress() bool { return flag(o.Progress, true) }

// IsQuick reports whether the quick option is set.
func (o Options) IsQuick() bool { return flag(o.Quick, false) }

// IsForced reports whether the force option is set.
func (o Options) IsForced() bool { return flag(o.Force, false) }

// IsVerbose reports whether the verbose option is set.
func (o Options) IsVerbose() bool { return flag(o.Verbose, false) }

// WithArchives reports whether archives should be included.
func (o Options) WithArchives() bool { return flag(o.IncludeArchives, false) }

// Day returns the date option, or the calendar day of now when unset.
func (o Options) Day(now time.Time) time.Time {
	if o.Date != nil {
		return *o.Date
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// Get returns an extension value.
func (o Options) Get(key string) (any, bool) {
	v, ok := o.Extra[key]
	return v, ok
}

// String renders the options with keys in sorted order, e.g.
// {dryrun: false, loggernamespace: P.T}.
func (o Options) String() string {
	m := o.ToMap()
	keys := slices.Sorted(maps.Keys(m))

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, m[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ToMap flattens the options into the opaque string-keyed form.
// Unset fields are omitted.
func (o Options) ToMap() map[string]any {
	m := make(map[string]any, len(o.Extra)+9)
	maps.Copy(m, o.Extra)
	if o.LoggerNamespace != "" {
		m[KeyLoggerNamespace] = o.LoggerNamespace
	}
	putBool(m, KeyDryRun, o.DryRun)
	putBool(m, KeyFailOnException, o.FailOnException)
	putBool(m, KeyProgress, o.Progress)
	putBool(m, KeyQuick, o.Quick)
	putBool(m, KeyForce, o.Force)
	putBool(m, KeyVerbose, o.Verbose)
	putBool(m, KeyIncludeArchives, o.IncludeArchives)
	if o.Date != nil {
		m[KeyDate] = o.Date.Format(DateLayout)
	}
	return m
}

func putBool(m map[string]any, key string, v *bool) {
	if v != nil {
		m[key] = *v
	}
}

// FromMap builds Options from the opaque string-keyed form. Recognized keys
// are type-checked; every other key lands in Extra untouched.
func FromMap(m map[string]any) (Options, error) {
	var o Options
	for key, raw := range m {
		var err error
		switch key {
		case KeyLoggerNamespace:
			s, ok := raw.(string)
			if !ok {
				err = fmt.Errorf("expected string, got %T", raw)
			}
			o.LoggerNamespace = s
		case KeyDryRun:
			o.DryRun, err = asBool(raw)
		case KeyFailOnException:
			o.FailOnException, err = asBool(raw)
		case KeyProgress, KeyShowProgress:
			// the current spelling wins over the legacy one
			if key == KeyShowProgress && m[KeyProgress] != nil {
				continue
			}
			o.Progress, err = asBool(raw)
		case KeyQuick:
			o.Quick, err = asBool(raw)
		case KeyForce:
			o.Force, err = asBool(raw)
		case KeyVerbose:
			o.Verbose, err = asBool(raw)
		case KeyIncludeArchives:
			o.IncludeArchives, err = asBool(raw)
		case KeyDate:
			o.Date, err = asDate(raw)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[key] = raw
		}
		if err != nil {
			return Options{}, fmt.Errorf("option %q: %w", key, err)
		}
	}
	return o, nil
}

func asBool(raw any) (*bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", raw)
	}
	return &b, nil
}

func asDate(raw any) (*time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return &v, nil
	case string:
		d, err := time.Parse(DateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("date must be in format YYYY-MM-DD: %w", err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("expected date string, got %T", raw)
	}
}
