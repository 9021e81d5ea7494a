package staffcreate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

// ClientResolver implements the three search strategies the staff-creation
// flow uses to find or create the client a request is opened on behalf of:
// by phone (authoritative), by name (fuzzy), and by id (direct).
type ClientResolver struct {
	store store.Store
}

// NewClientResolver constructs a ClientResolver over s.
func NewClientResolver(s store.Store) *ClientResolver {
	return &ClientResolver{store: s}
}

// ResolveResult reports how many clients matched a search.
type ResolveResult struct {
	Found int
	List  []workflow.User
}

var phoneDigits = regexp.MustCompile(`[^0-9]`)

// NormalisePhone converts a raw phone number into the canonical
// +998XXXXXXXXX form: nine bare digits get "998" prepended, twelve digits
// get a leading "+", and an already-prefixed number passes through. Any
// other length is rejected.
func NormalisePhone(raw string) (string, error) {
	digits := phoneDigits.ReplaceAllString(raw, "")
	switch len(digits) {
	case 9:
		return "+998" + digits, nil
	case 12:
		if strings.HasPrefix(digits, "998") {
			return "+" + digits, nil
		}
	}
	if strings.HasPrefix(raw, "+998") && len(raw) == 13 {
		return raw, nil
	}
	return "", wferrors.Data("phone", fmt.Sprintf("%q is not a valid Uzbek phone number", raw))
}

// ByPhone looks up a client by phone, trying both the normalised and the
// bare (unprefixed) forms the source data may carry.
func (r *ClientResolver) ByPhone(ctx context.Context, rawPhone string) (ResolveResult, error) {
	normalised, err := NormalisePhone(rawPhone)
	if err != nil {
		return ResolveResult{}, err
	}
	u, err := r.store.GetUserByPhone(ctx, normalised)
	if err == nil {
		return ResolveResult{Found: 1, List: []workflow.User{u}}, nil
	}
	u, err = r.store.GetUserByPhone(ctx, strings.TrimPrefix(normalised, "+998"))
	if err == nil {
		return ResolveResult{Found: 1, List: []workflow.User{u}}, nil
	}
	return ResolveResult{Found: 0}, nil
}

// ByName performs a case-insensitive partial match on full name, ranking
// exact matches first and capping results at 10.
func (r *ClientResolver) ByName(ctx context.Context, query string) (ResolveResult, error) {
	users, err := r.store.FindUsersByName(ctx, query, 10)
	if err != nil {
		return ResolveResult{}, wferrors.Transient("client name search failed", err)
	}
	return ResolveResult{Found: len(users), List: users}, nil
}

// ByID performs a direct lookup.
func (r *ClientResolver) ByID(ctx context.Context, id string) (ResolveResult, error) {
	u, err := r.store.GetUser(ctx, id)
	if err != nil {
		return ResolveResult{Found: 0}, nil
	}
	return ResolveResult{Found: 1, List: []workflow.User{u}}, nil
}

// CreateNewClient registers a client, refusing a duplicate normalised phone.
func (r *ClientResolver) CreateNewClient(ctx context.Context, fullName, rawPhone, address, language string) (workflow.User, error) {
	normalised, err := NormalisePhone(rawPhone)
	if err != nil {
		return workflow.User{}, err
	}
	if existing, err := r.ByPhone(ctx, rawPhone); err == nil && existing.Found > 0 {
		return workflow.User{}, wferrors.Data("phone", fmt.Sprintf("client with phone %s already exists", normalised))
	}
	if language == "" {
		language = "uz"
	}
	u, err := r.store.CreateUser(ctx, workflow.User{
		PhoneNormalised: normalised,
		FullName:        strings.TrimSpace(fullName),
		Role:            workflow.RoleClient,
		Language:        language,
		Address:         address,
	})
	if err != nil {
		return workflow.User{}, wferrors.Wrap(wferrors.CategoryData, wferrors.SeverityLow, "client creation failed", err)
	}
	return u, nil
}

// Resolve tries phone first (authoritative), then name, the order the
// staff-creation flow is expected to follow.
func (r *ClientResolver) Resolve(ctx context.Context, phone, name string) (ResolveResult, error) {
	if strings.TrimSpace(phone) != "" {
		res, err := r.ByPhone(ctx, phone)
		if err != nil {
			return ResolveResult{}, err
		}
		if res.Found > 0 {
			return res, nil
		}
	}
	if strings.TrimSpace(name) != "" {
		return r.ByName(ctx, name)
	}
	return ResolveResult{Found: 0}, nil
}
