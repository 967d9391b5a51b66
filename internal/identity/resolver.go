package identity

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/basket/shadowbook/internal/normalize"
	"github.com/google/uuid"
)

// Batch is one source's raw records for a resolution pass.
type Batch struct {
	Source  Source
	Records []RawContact
}

// Resolver merges raw records across sources and against already-imported
// contacts into a deduplicated working set. Two records are the same identity
// when any normalized phone key intersects, or any normalized email key
// intersects, or — only when neither side carries a phone or email key at
// all — the lower-cased names are equal. On a match the higher-priority
// contact wins identity; phones and emails are unioned with existing values
// first, and every distinct representation of a key is retained.
type Resolver struct {
	precedence []Source
	logger     *slog.Logger
}

// NewResolver creates a resolver with the given total source-priority order.
// A nil or empty precedence falls back to DefaultPrecedence.
func NewResolver(precedence []Source, logger *slog.Logger) *Resolver {
	if len(precedence) == 0 {
		precedence = DefaultPrecedence()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{precedence: precedence, logger: logger}
}

func (r *Resolver) rank(s Source) int {
	for i, p := range r.precedence {
		if p == s {
			return i
		}
	}
	return len(r.precedence)
}

// Resolve merges the given batches, in source-priority order, against the
// already-imported contacts. Every element of the result carries a FromImport
// flag; records that merged into an existing contact contribute an Origin to
// it instead of producing a new element, so no record is ever dropped.
func (r *Resolver) Resolve(userID string, imported []Contact, batches []Batch) []Contact {
	w := &workingSet{
		phoneIdx: make(map[string]*Contact),
		emailIdx: make(map[string]*Contact),
		nameIdx:  make(map[string]*Contact),
	}

	for i := range imported {
		c := cloneContact(imported[i])
		c.UserID = userID
		c.FromImport = true
		if c.Source == "" {
			c.Source = SourceImport
		}
		if len(c.Origins) == 0 {
			c.Origins = []Origin{{Source: c.Source, ExternalID: c.ExternalID}}
		}
		w.add(c)
	}

	ordered := make([]Batch, len(batches))
	copy(ordered, batches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return r.rank(ordered[i].Source) < r.rank(ordered[j].Source)
	})

	for _, batch := range ordered {
		for _, rec := range batch.Records {
			r.resolveRecord(w, userID, batch.Source, rec)
		}
	}

	out := make([]Contact, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	return out
}

func (r *Resolver) resolveRecord(w *workingSet, userID string, src Source, rec RawContact) {
	phoneKeys := normalize.PhoneKeys(rec.Phones)
	emailKeys := normalize.EmailKeys(rec.Emails)

	var phoneMatch, emailMatch *Contact
	for _, key := range phoneKeys {
		if hit, ok := w.phoneIdx[key]; ok {
			phoneMatch = hit
			break
		}
	}
	for _, key := range emailKeys {
		if hit, ok := w.emailIdx[key]; ok {
			emailMatch = hit
			break
		}
	}

	target := phoneMatch
	if phoneMatch != nil && emailMatch != nil && phoneMatch != emailMatch {
		// Data inconsistency: one record bridges two existing contacts.
		// Phone wins; never drop the record.
		r.logger.Warn("ambiguous identity match, preferring phone key",
			"user_id", userID,
			"source", string(src),
			"external_id", rec.ExternalID,
			"phone_match_id", phoneMatch.ID,
			"email_match_id", emailMatch.ID)
	}
	if target == nil {
		target = emailMatch
	}

	// Name fallback applies only when neither side has any phone or email key.
	if target == nil && len(phoneKeys) == 0 && len(emailKeys) == 0 {
		name := strings.ToLower(strings.TrimSpace(rec.Name))
		if name != "" {
			if cand, ok := w.nameIdx[name]; ok && len(cand.PhoneKeys()) == 0 && len(cand.EmailKeys()) == 0 {
				target = cand
			}
		}
	}

	if target != nil {
		w.merge(target, src, rec)
		return
	}

	c := &Contact{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       strings.TrimSpace(rec.Name),
		Phones:     unionValues(nil, rec.Phones, normalize.Phone),
		Emails:     unionValues(nil, rec.Emails, normalize.Email),
		Company:    rec.Company,
		ExternalID: rec.ExternalID,
		Source:     src,
		Origins:    []Origin{{Source: src, ExternalID: rec.ExternalID}},
	}
	w.add(c)
}

type workingSet struct {
	entries  []*Contact
	phoneIdx map[string]*Contact
	emailIdx map[string]*Contact
	nameIdx  map[string]*Contact
}

func (w *workingSet) add(c *Contact) {
	w.entries = append(w.entries, c)
	w.index(c)
}

// merge unions the record's phones and emails into the surviving contact.
// The survivor keeps its id, name, company and other business fields; the
// record contributes an origin so its owning source still persists a row.
func (w *workingSet) merge(target *Contact, src Source, rec RawContact) {
	target.Phones = unionValues(target.Phones, rec.Phones, normalize.Phone)
	target.Emails = unionValues(target.Emails, rec.Emails, normalize.Email)
	target.Origins = append(target.Origins, Origin{Source: src, ExternalID: rec.ExternalID})
	w.index(target)
}

// index registers the contact's current keys; first writer of a key keeps it,
// so higher-priority contacts (processed earlier) always win lookups.
func (w *workingSet) index(c *Contact) {
	for _, key := range c.PhoneKeys() {
		if _, ok := w.phoneIdx[key]; !ok {
			w.phoneIdx[key] = c
		}
	}
	for _, key := range c.EmailKeys() {
		if _, ok := w.emailIdx[key]; !ok {
			w.emailIdx[key] = c
		}
	}
	if name := strings.ToLower(strings.TrimSpace(c.Name)); name != "" {
		if _, ok := w.nameIdx[name]; !ok {
			w.nameIdx[name] = c
		}
	}
}

// unionValues merges value lists, existing entries ahead of newly merged
// ones. Every distinct representation is retained even when two strings
// normalize to the same key; only exact duplicates collapse. Values whose
// key normalizes to nothing are dropped.
func unionValues(existing, add []string, keyFn func(string) string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	keep := func(v string) {
		if keyFn(v) == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range existing {
		keep(v)
	}
	for _, v := range add {
		keep(v)
	}
	return out
}

func cloneContact(c Contact) *Contact {
	out := c
	out.Phones = append([]string(nil), c.Phones...)
	out.Emails = append([]string(nil), c.Emails...)
	out.Origins = append([]Origin(nil), c.Origins...)
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return &out
}
