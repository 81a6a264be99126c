package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/config"
	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
)

// Resolver maps per-source identity records to canonical Person nodes.
//
// Resolution order: exact identity-key match, then fuzzy fallback on
// normalized display name plus co-occurrence evidence, then a fresh
// Person. Fuzzy attachment requires a single unambiguous candidate;
// when in doubt a new Person is created, because a false split is
// repairable by an explicit merge while a false merge corrupts
// attribution silently.
type Resolver struct {
	backend graph.Backend
	audit   *AuditJournal
	cfg     config.IdentityConfig
	log     *logrus.Entry
}

// Resolution is the outcome of resolving one record. Upsert carries
// the Person node write the caller must include in its batch; the
// resolver itself never writes.
type Resolution struct {
	PersonID string
	Created  bool
	// FuzzyAttached is true when the identity key joined an existing
	// Person through the fuzzy fallback rather than an exact match.
	FuzzyAttached bool
	// Conflict is non-nil when the record's keys already belong to two
	// distinct Persons. Both are kept; nothing is auto-merged.
	Conflict error
	Upsert   models.Node
}

func NewResolver(backend graph.Backend, audit *AuditJournal, cfg config.IdentityConfig) *Resolver {
	return &Resolver{
		backend: backend,
		audit:   audit,
		cfg:     cfg,
		log:     logrus.WithField("component", "identity_resolver"),
	}
}

// Resolve maps a raw record to a canonical Person.
func (r *Resolver) Resolve(ctx context.Context, record models.RawRecord) (*Resolution, error) {
	if record.SourceID == "" {
		return nil, tserrors.IngestionError(nil, "record from %s missing source id", record.Source)
	}

	keys := record.Keys()

	// Exact match: any key already claimed by a Person wins.
	var matched []*models.Node
	seen := map[string]bool{}
	for _, key := range keys {
		person, err := r.backend.FindPersonByIdentity(ctx, key.String())
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !seen[person.ID] {
			seen[person.ID] = true
			matched = append(matched, person)
		}
	}

	switch {
	case len(matched) == 1:
		res := r.attach(matched[0], record, keys)
		r.journal(ctx, "exact_match", record, res.PersonID, "")
		return res, nil

	case len(matched) > 1:
		// The record links Persons that existing evidence keeps apart.
		// Keep both; record the conflict for a human to merge explicitly.
		conflict := tserrors.IdentityConflict(keys[0].String(), matched[0].ID, matched[1].ID)
		r.log.WithFields(logrus.Fields{
			"key":      keys[0].String(),
			"person_a": matched[0].ID,
			"person_b": matched[1].ID,
		}).Warn("Identity conflict, keeping both persons")
		res := r.attach(matched[0], record, keys[:1])
		res.Conflict = conflict
		r.journal(ctx, "conflict", record, res.PersonID, matched[1].ID)
		return res, nil
	}

	// Fuzzy fallback.
	if candidate := r.fuzzyCandidate(ctx, record); candidate != nil {
		res := r.attach(candidate, record, keys)
		res.FuzzyAttached = true
		r.journal(ctx, "fuzzy_match", record, res.PersonID, "")
		return res, nil
	}

	res := r.create(record, keys)
	r.journal(ctx, "created", record, res.PersonID, "")
	return res, nil
}

// fuzzyCandidate returns the single Person an unmatched record can be
// safely attached to, or nil. Requires a normalized-name similarity of
// at least the configured threshold AND co-occurrence in the same
// repository or channel within the configured window; any ambiguity
// disqualifies all candidates.
func (r *Resolver) fuzzyCandidate(ctx context.Context, record models.RawRecord) *models.Node {
	if record.DisplayName == "" || record.ContextRef == "" {
		return nil
	}
	normalized := graph.NormalizeName(record.DisplayName)
	if normalized == "" {
		return nil
	}

	candidates, err := r.backend.PersonsByNormalizedName(ctx, normalized)
	if err != nil {
		r.log.WithError(err).Warn("Fuzzy name lookup failed, creating new person")
		return nil
	}

	var passing []*models.Node
	for _, candidate := range candidates {
		name, _ := candidate.Attrs["display_name"].(string)
		score := jaroWinkler(normalized, graph.NormalizeName(name))
		if score < r.cfg.FuzzyThreshold {
			continue
		}
		if !r.cooccurs(candidate, record) {
			continue
		}
		passing = append(passing, candidate)
	}

	if len(passing) != 1 {
		return nil
	}
	return passing[0]
}

// cooccurs reports whether the candidate was recently active in the
// record's repository or channel.
func (r *Resolver) cooccurs(candidate *models.Node, record models.RawRecord) bool {
	window := r.cfg.CooccurrenceWindow
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}

	inContext := false
	for _, attr := range []string{"repositories", "channels"} {
		for _, ref := range toStringSlice(candidate.Attrs[attr]) {
			if ref == record.ContextRef {
				inContext = true
			}
		}
	}
	if !inContext {
		return false
	}

	lastSeen := candidate.Timestamp()
	if lastSeen.IsZero() {
		if v, ok := candidate.Attrs["last_seen"].(time.Time); ok {
			lastSeen = v
		} else if s, ok := candidate.Attrs["last_seen"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				lastSeen = t
			}
		}
	}
	if lastSeen.IsZero() {
		return false
	}

	gap := record.SeenAt.Sub(lastSeen)
	if gap < 0 {
		gap = -gap
	}
	return gap <= window
}

// attach builds the Person upsert that adds the record's identity keys
// and refreshed profile fields to an existing Person. Set-valued
// attributes union in the store, so concurrent attaches are safe.
func (r *Resolver) attach(person *models.Node, record models.RawRecord, keys []models.IdentityKey) *Resolution {
	attrs := map[string]any{
		"identities": keyStrings(keys),
		"last_seen":  record.SeenAt.UTC(),
	}
	if record.DisplayName != "" {
		attrs["display_name"] = record.DisplayName
		attrs["normalized_name"] = graph.NormalizeName(record.DisplayName)
	}
	if record.ContextRef != "" {
		attrs[contextAttr(record.Source)] = []string{record.ContextRef}
	}

	return &Resolution{
		PersonID: person.ID,
		Upsert: models.Node{
			ID:        person.ID,
			Type:      models.NodeTypePerson,
			Attrs:     attrs,
			Active:    true,
			UpdatedAt: record.SeenAt.UTC(),
		},
	}
}

// Attach unions a record's identity keys and profile fields onto a
// Person the caller has already pinned. Ingestion uses this when an
// earlier record in the same uncommitted batch claimed one of the
// record's keys, which the backend cannot see until the batch commits.
func (r *Resolver) Attach(ctx context.Context, personID string, record models.RawRecord) *Resolution {
	res := r.attach(&models.Node{ID: personID}, record, record.Keys())
	r.journal(ctx, "exact_match", record, personID, "")
	return res
}

// create builds a fresh Person node for a record nothing matched.
func (r *Resolver) create(record models.RawRecord, keys []models.IdentityKey) *Resolution {
	id := "person:" + uuid.NewString()
	attrs := map[string]any{
		"identities": keyStrings(keys),
		"last_seen":  record.SeenAt.UTC(),
	}
	if record.DisplayName != "" {
		attrs["display_name"] = record.DisplayName
		attrs["normalized_name"] = graph.NormalizeName(record.DisplayName)
	}
	if record.ContextRef != "" {
		attrs[contextAttr(record.Source)] = []string{record.ContextRef}
	}

	return &Resolution{
		PersonID: id,
		Created:  true,
		Upsert: models.Node{
			ID:        id,
			Type:      models.NodeTypePerson,
			Attrs:     attrs,
			Active:    true,
			UpdatedAt: record.SeenAt.UTC(),
		},
	}
}

// MergePersons folds fromID into toID. Explicit operation only; the
// resolver never merges on its own evidence.
func (r *Resolver) MergePersons(ctx context.Context, fromID, toID string) error {
	if fromID == toID {
		return tserrors.IngestionError(nil, "cannot merge a person into itself: %s", fromID)
	}
	if _, err := r.backend.GetNode(ctx, fromID); err != nil {
		return err
	}
	if _, err := r.backend.GetNode(ctx, toID); err != nil {
		return err
	}

	err := r.backend.ApplyBatch(ctx, graph.Batch{
		Merges: []graph.PersonMerge{{FromID: fromID, ToID: toID}},
	})
	if err != nil {
		return err
	}

	r.journal(ctx, "explicit_merge", models.RawRecord{SourceID: fromID}, toID, fromID)
	r.log.WithFields(logrus.Fields{"from": fromID, "to": toID}).Info("Merged persons")
	return nil
}

func (r *Resolver) journal(ctx context.Context, decision string, record models.RawRecord, personID, otherID string) {
	if r.audit == nil {
		return
	}
	entry := AuditEntry{
		Decision:    decision,
		Source:      string(record.Source),
		SourceID:    record.SourceID,
		DisplayName: record.DisplayName,
		PersonID:    personID,
		OtherID:     otherID,
		At:          time.Now().UTC(),
	}
	if err := r.audit.Append(entry); err != nil {
		r.log.WithError(err).Warn("Failed to journal identity decision")
	}
}

func keyStrings(keys []models.IdentityKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// contextAttr maps a record source to the set attribute its context
// refs accumulate under.
func contextAttr(source models.Source) string {
	if source == models.SourceSlack {
		return "channels"
	}
	return "repositories"
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
