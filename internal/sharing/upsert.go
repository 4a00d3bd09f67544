package sharing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"famvault.org/internal/access"
)

// MaxBatchSize caps a single bulk request.
const MaxBatchSize = 100

var (
	ErrBatchTooLarge    = fmt.Errorf("sharing: batch exceeds %d items", MaxBatchSize)
	ErrEmptyBatch       = errors.New("sharing: batch is empty")
	ErrPermissionDenied = errors.New("sharing: requester cannot manage sharing")
)

// DowngradePolicy decides what a lower level does to an existing editor grant.
type DowngradePolicy string

const (
	// DowngradeKeepEditor keeps editor access; removing it requires a revoke.
	DowngradeKeepEditor DowngradePolicy = "keep_editor"
	// DowngradeAllow applies editor -> viewer requests.
	DowngradeAllow DowngradePolicy = "allow_downgrade"
)

// ParseDowngradePolicy accepts the config spelling; empty means keep_editor.
func ParseDowngradePolicy(raw string) (DowngradePolicy, error) {
	switch p := DowngradePolicy(strings.TrimSpace(strings.ToLower(raw))); p {
	case "":
		return DowngradeKeepEditor, nil
	case DowngradeKeepEditor, DowngradeAllow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown downgrade policy %q", raw)
	}
}

// Reason explains why an item was rejected.
type Reason string

const (
	ReasonInvalidUser        Reason = "invalid_user"
	ReasonInvalidAccessLevel Reason = "invalid_access_level"
	ReasonSelfAssignment     Reason = "self_assignment"
	ReasonNotFamilyMember    Reason = "not_family_member"
)

var reasonMessages = map[Reason]string{
	ReasonInvalidUser:        "user_id is required",
	ReasonInvalidAccessLevel: "access_level must be viewer or editor",
	ReasonSelfAssignment:     "cannot share with the owner, they already have full access",
	ReasonNotFamilyMember:    "user does not belong to the document's family",
}

// Item is one requested (user, level) pair.
type Item struct {
	UserID      string `json:"user_id"`
	AccessLevel string `json:"access_level"`
}

// Rejection is an item that failed a precondition.
type Rejection struct {
	UserID      string `json:"user_id"`
	AccessLevel string `json:"access_level"`
	Reason      Reason `json:"reason"`
	Message     string `json:"message"`
}

// ChangeKind tells a store whether to insert or update a grant.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota + 1
	ChangeUpdate
)

// Change is a grant write produced by a batch.
type Change struct {
	Kind  ChangeKind
	Grant Grant
}

// Result is the outcome of a batch. Partial failure is a normal result.
type Result struct {
	Created  []Grant     `json:"created"`
	Updated  []Grant     `json:"updated"`
	Rejected []Rejection `json:"rejected"`

	changes []Change
}

// Succeeded counts items that produced a created or updated grant.
func (r Result) Succeeded() int { return len(r.Created) + len(r.Updated) }

// Partial reports a mix of accepted and rejected items.
func (r Result) Partial() bool { return len(r.Rejected) > 0 && r.Succeeded() > 0 }

// Failed reports that every item was rejected.
func (r Result) Failed() bool { return len(r.Rejected) > 0 && r.Succeeded() == 0 }

// Changes lists the writes a store must apply. No-op updates are omitted.
func (r Result) Changes() []Change {
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// Membership resolves the family a user belongs to.
type Membership interface {
	FamilyOf(userID string) (string, bool)
}

// Members is a static userID -> familyID Membership.
type Members map[string]string

func (m Members) FamilyOf(userID string) (string, bool) {
	f, ok := m[userID]
	return f, ok
}

// BatchRequest is a bulk share request against one document.
type BatchRequest struct {
	Document  access.Document
	Requester access.Actor
	Items     []Item
}

// Options tunes the engine.
type Options struct {
	Downgrade DowngradePolicy
	Now       func() time.Time
}

// ApplyLevel resolves a requested level against an active grant. It reports
// whether the grant changed; a same-level request or a blocked downgrade is a
// no-op.
func ApplyLevel(current Grant, requested AccessLevel, policy DowngradePolicy, now time.Time) (Grant, bool) {
	if current.AccessLevel == requested {
		return current, false
	}
	if requested.rank() < current.AccessLevel.rank() && policy != DowngradeAllow {
		return current, false
	}
	current.AccessLevel = requested
	current.UpdatedAt = now
	return current, true
}

type pending struct {
	grant   Grant
	existed bool
	changed bool
}

// UpsertBatch applies items to the existing grants of req.Document. Each item
// is validated on its own and a failing item never aborts the others.
func UpsertBatch(req BatchRequest, existing []Grant, members Membership, opts Options) (Result, error) {
	if len(req.Items) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if len(req.Items) > MaxBatchSize {
		return Result{}, ErrBatchTooLarge
	}
	set := NewSet(existing)
	perm := access.Resolve(req.Requester, req.Document, set)
	state := access.DocumentState{Deleted: req.Document.IsDeleted}
	if !access.CanPerform(access.ActionManageSharing, perm, req.Requester.Role, state) {
		return Result{}, ErrPermissionDenied
	}

	now := time.Now().UTC()
	if opts.Now != nil {
		now = opts.Now().UTC()
	}
	policy := opts.Downgrade
	if policy == "" {
		policy = DowngradeKeepEditor
	}

	var (
		res     = Result{Created: []Grant{}, Updated: []Grant{}, Rejected: []Rejection{}}
		touched = make(map[string]*pending)
		order   []string
	)
	reject := func(it Item, reason Reason) {
		res.Rejected = append(res.Rejected, Rejection{
			UserID:      it.UserID,
			AccessLevel: it.AccessLevel,
			Reason:      reason,
			Message:     reasonMessages[reason],
		})
	}

	for _, it := range req.Items {
		userID := strings.TrimSpace(it.UserID)
		if userID == "" {
			reject(it, ReasonInvalidUser)
			continue
		}
		level, err := ParseAccessLevel(it.AccessLevel)
		if err != nil {
			reject(it, ReasonInvalidAccessLevel)
			continue
		}
		if userID == req.Document.OwnerUserID {
			reject(it, ReasonSelfAssignment)
			continue
		}
		if members == nil {
			reject(it, ReasonNotFamilyMember)
			continue
		}
		if family, ok := members.FamilyOf(userID); !ok || family != req.Document.FamilyID {
			reject(it, ReasonNotFamilyMember)
			continue
		}

		p, seen := touched[userID]
		if !seen {
			g, ok := set.Get(req.Document.ID, userID)
			p = &pending{grant: g, existed: ok}
			touched[userID] = p
			order = append(order, userID)
			if !ok {
				p.grant = Grant{
					DocumentID:  req.Document.ID,
					UserID:      userID,
					AccessLevel: level,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				p.changed = true
				continue
			}
		}
		next, changed := ApplyLevel(p.grant, level, policy, now)
		p.grant = next
		p.changed = p.changed || changed
	}

	for _, userID := range order {
		p := touched[userID]
		if p.existed {
			res.Updated = append(res.Updated, p.grant)
			if p.changed {
				res.changes = append(res.changes, Change{Kind: ChangeUpdate, Grant: p.grant})
			}
			continue
		}
		res.Created = append(res.Created, p.grant)
		res.changes = append(res.changes, Change{Kind: ChangeCreate, Grant: p.grant})
	}
	return res, nil
}

// Persisted replaces the grants of a result with the rows a store wrote, so
// ids and versions assigned on write are reported back to the caller.
func (r Result) Persisted(written []Grant) Result {
	byUser := make(map[string]Grant, len(written))
	for _, g := range written {
		byUser[g.UserID] = g
	}
	swap := func(in []Grant) []Grant {
		out := make([]Grant, len(in))
		for i, g := range in {
			if w, ok := byUser[g.UserID]; ok {
				out[i] = w
				continue
			}
			out[i] = g
		}
		return out
	}
	r.Created = swap(r.Created)
	r.Updated = swap(r.Updated)
	return r
}
