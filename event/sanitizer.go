package event

import "context"

// Sanitizer filters event metadata before publication. When Include is
// non-empty only those keys survive; Exclude is applied afterwards and
// always wins.
type Sanitizer struct {
	Include map[string]struct{}
	Exclude map[string]struct{}
}

// NewSanitizer builds a sanitizer from key lists. Either list may be empty.
func NewSanitizer(include, exclude []string) *Sanitizer {
	s := &Sanitizer{}
	if len(include) > 0 {
		s.Include = make(map[string]struct{}, len(include))
		for _, k := range include {
			s.Include[k] = struct{}{}
		}
	}
	if len(exclude) > 0 {
		s.Exclude = make(map[string]struct{}, len(exclude))
		for _, k := range exclude {
			s.Exclude[k] = struct{}{}
		}
	}
	return s
}

// SensitiveKeys is the preset exclusion list for credential-bearing
// metadata entries.
func SensitiveKeys() []string {
	return []string{
		"password",
		"apiKey",
		"token",
		"secret",
		"sessionToken",
		"accessToken",
		"refreshToken",
		"authorization",
		"credential",
		"privateKey",
	}
}

// NewCredentialSanitizer returns a sanitizer excluding the sensitive
// key preset.
func NewCredentialSanitizer() *Sanitizer {
	return NewSanitizer(nil, SensitiveKeys())
}

// Filter returns a filtered copy of md. Filtering is idempotent:
// filtering twice with the same config equals filtering once.
func (s *Sanitizer) Filter(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if s.Include != nil {
			if _, ok := s.Include[k]; !ok {
				continue
			}
		}
		if _, ok := s.Exclude[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Sanitize returns a copy of the event with its metadata filtered.
func (s *Sanitizer) Sanitize(e Event) Event {
	e.Metadata = s.Filter(e.Metadata)
	return e
}

// SanitizingBus wraps a Bus, filtering every event's metadata before
// forwarding it.
type SanitizingBus struct {
	next      Bus
	sanitizer *Sanitizer
}

// NewSanitizingBus wraps next with the given sanitizer. A nil sanitizer
// defaults to the credential preset.
func NewSanitizingBus(next Bus, sanitizer *Sanitizer) *SanitizingBus {
	if sanitizer == nil {
		sanitizer = NewCredentialSanitizer()
	}
	return &SanitizingBus{next: next, sanitizer: sanitizer}
}

// Publish implements Bus.
func (b *SanitizingBus) Publish(ctx context.Context, e Event) {
	b.next.Publish(ctx, b.sanitizer.Sanitize(e))
}
