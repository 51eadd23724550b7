package profiles

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type notifierStub struct {
	calls []string
}

func (n *notifierStub) Notify(_ context.Context, userID uuid.UUID, kind, title, message, link string) error {
	n.calls = append(n.calls, kind+":"+userID.String())
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestServiceCreateHonoursSelfServeAdminRoles(t *testing.T) {
	cases := []struct {
		role    Role
		isAdmin bool
	}{
		{RoleSeller, true},
		{RoleLandlord, true},
		{RoleBuyer, false},
		{RoleRenter, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			svc := NewService(NewInMemoryRepository(nil))
			userID := uuid.New()

			profile, err := svc.Create(context.Background(), userID, CreateInput{
				Name:    "  Alice  ",
				Role:    tc.role,
				IsAdmin: DefaultAdminForRole(tc.role),
			})
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if profile.IsAdmin != tc.isAdmin {
				t.Fatalf("expected is_admin=%v, got %v", tc.isAdmin, profile.IsAdmin)
			}
			if profile.Name != "Alice" {
				t.Fatalf("expected trimmed name, got %q", profile.Name)
			}
			if profile.IsPremium {
				t.Fatal("new profiles must not be premium")
			}
			if !strings.HasPrefix(profile.PersonalID, "EST-") || len(profile.PersonalID) != 10 {
				t.Fatalf("unexpected personal id %q", profile.PersonalID)
			}
		})
	}
}

func TestServiceCreateIgnoresAdminRequestOutsideConfiguredRoles(t *testing.T) {
	svc := NewService(NewInMemoryRepository(nil), WithSelfServeAdminRoles([]string{"landlord"}))

	profile, err := svc.Create(context.Background(), uuid.New(), CreateInput{Name: "Sam", Role: RoleSeller, IsAdmin: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if profile.IsAdmin {
		t.Fatal("expected admin flag to be dropped for seller")
	}
}

func TestServiceCreateWithoutSelfServeAdmins(t *testing.T) {
	svc := NewService(NewInMemoryRepository(nil), WithSelfServeAdminRoles([]string{"none"}))

	for _, role := range []Role{RoleSeller, RoleLandlord} {
		profile, err := svc.Create(context.Background(), uuid.New(), CreateInput{
			Name:    "Lister",
			Role:    role,
			IsAdmin: DefaultAdminForRole(role),
		})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if profile.IsAdmin {
			t.Fatalf("expected %s to sign up without the admin flag", role)
		}
	}
}

func TestServiceCreateRejectsOtherUsersAndDuplicates(t *testing.T) {
	svc := NewService(NewInMemoryRepository(nil))
	userID := uuid.New()

	if _, err := svc.Create(context.Background(), userID, CreateInput{ID: uuid.New(), Name: "Eve", Role: RoleBuyer}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := svc.Create(context.Background(), userID, CreateInput{Name: "Bob", Role: RoleBuyer}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Create(context.Background(), userID, CreateInput{Name: "Bob", Role: RoleBuyer}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestServiceCreateValidatesInput(t *testing.T) {
	svc := NewService(NewInMemoryRepository(nil))

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{Name: " ", Role: RoleBuyer})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}

	_, err = svc.Create(context.Background(), uuid.New(), CreateInput{Name: "Ann", Role: "agent"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for role, got %v", err)
	}
}

func TestServiceListScopesNonAdmins(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	admin := Profile{ID: uuid.New(), Name: "Admin", Role: RoleLandlord, IsAdmin: true, PersonalID: "EST-AAAAAA", CreatedAt: now}
	member := Profile{ID: uuid.New(), Name: "Member", Role: RoleBuyer, PersonalID: "EST-BBBBBB", CreatedAt: now.Add(time.Hour)}
	svc := NewService(NewInMemoryRepository([]Profile{admin, member}))

	rows, total, err := svc.List(context.Background(), member.ID, ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].ID != member.ID {
		t.Fatalf("expected only own row, got total=%d rows=%v", total, rows)
	}

	rows, total, err = svc.List(context.Background(), admin.ID, ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 2 || rows[0].ID != member.ID {
		t.Fatalf("expected all rows newest first, got total=%d rows=%v", total, rows)
	}

	rows, total, err = svc.List(context.Background(), uuid.New(), ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("expected no rows for caller without profile, got %d", total)
	}
}

func TestServiceGetRequiresOwnerOrAdmin(t *testing.T) {
	owner := Profile{ID: uuid.New(), Name: "Owner", Role: RoleBuyer, PersonalID: "EST-CCCCCC"}
	other := Profile{ID: uuid.New(), Name: "Other", Role: RoleRenter, PersonalID: "EST-DDDDDD"}
	svc := NewService(NewInMemoryRepository([]Profile{owner, other}))

	if _, err := svc.Get(context.Background(), owner.ID, owner.ID); err != nil {
		t.Fatalf("expected owner to read own profile, got %v", err)
	}
	if _, err := svc.Get(context.Background(), other.ID, owner.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestServiceSetRoleRequiresAdminAndNotifies(t *testing.T) {
	admin := Profile{ID: uuid.New(), Name: "Admin", Role: RoleSeller, IsAdmin: true, PersonalID: "EST-EEEEEE"}
	member := Profile{ID: uuid.New(), Name: "Member", Role: RoleBuyer, PersonalID: "EST-FFFFFF"}
	notifier := &notifierStub{}
	svc := NewService(NewInMemoryRepository([]Profile{admin, member}), WithNotifier(notifier))

	if _, err := svc.SetRole(context.Background(), member.ID, admin.ID, RoleBuyer, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	grant := true
	updated, err := svc.SetRole(context.Background(), admin.ID, member.ID, RoleSeller, &grant)
	if err != nil {
		t.Fatalf("SetRole returned error: %v", err)
	}
	if updated.Role != RoleSeller || !updated.IsAdmin {
		t.Fatalf("unexpected profile after SetRole: %+v", updated)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "role_changed:"+member.ID.String() {
		t.Fatalf("expected role_changed notification, got %v", notifier.calls)
	}
}

func TestServiceUpgradePremiumExtendsFromCurrentExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * 24 * time.Hour)
	member := Profile{ID: uuid.New(), Name: "Member", Role: RoleBuyer, IsPremium: true, PremiumExpiresAt: &expiry, PersonalID: "EST-GGGGGG"}
	svc := NewService(NewInMemoryRepository([]Profile{member}), WithClock(fixedClock(now)))

	updated, err := svc.UpgradePremium(context.Background(), member.ID, PlanMonthly)
	if err != nil {
		t.Fatalf("UpgradePremium returned error: %v", err)
	}
	want := expiry.Add(30 * 24 * time.Hour)
	if updated.PremiumExpiresAt == nil || !updated.PremiumExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %v", want, updated.PremiumExpiresAt)
	}
	if !updated.PremiumActive(now) {
		t.Fatal("expected premium to be active")
	}
}

func TestServiceUpgradePremiumStartsNowWhenLapsed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lapsed := now.Add(-time.Hour)
	member := Profile{ID: uuid.New(), Name: "Member", Role: RoleBuyer, IsPremium: true, PremiumExpiresAt: &lapsed, PersonalID: "EST-HHHHHH"}
	svc := NewService(NewInMemoryRepository([]Profile{member}), WithClock(fixedClock(now)))

	if member.PremiumActive(now) {
		t.Fatal("expected lapsed premium to be inactive")
	}

	updated, err := svc.UpgradePremium(context.Background(), member.ID, PlanYearly)
	if err != nil {
		t.Fatalf("UpgradePremium returned error: %v", err)
	}
	want := now.Add(365 * 24 * time.Hour)
	if !updated.PremiumExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, updated.PremiumExpiresAt)
	}

	if _, err := svc.UpgradePremium(context.Background(), member.ID, "weekly"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown plan, got %v", err)
	}
}

func TestServiceCancelPremium(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(48 * time.Hour)
	member := Profile{ID: uuid.New(), Name: "Member", Role: RoleBuyer, IsPremium: true, PremiumExpiresAt: &expiry, PersonalID: "EST-JJJJJJ"}
	notifier := &notifierStub{}
	svc := NewService(NewInMemoryRepository([]Profile{member}), WithClock(fixedClock(now)), WithNotifier(notifier))

	updated, err := svc.CancelPremium(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("CancelPremium returned error: %v", err)
	}
	if updated.IsPremium || updated.PremiumExpiresAt != nil {
		t.Fatalf("expected premium cleared, got %+v", updated)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
}

func TestServiceUpdateRequiresOwnerOrAdmin(t *testing.T) {
	owner := Profile{ID: uuid.New(), Name: "Owner", Role: RoleBuyer, PersonalID: "EST-KKKKKK"}
	other := Profile{ID: uuid.New(), Name: "Other", Role: RoleRenter, PersonalID: "EST-LLLLLL"}
	svc := NewService(NewInMemoryRepository([]Profile{owner, other}))

	name := "Renamed"
	if _, err := svc.Update(context.Background(), other.ID, owner.ID, UpdateInput{Name: &name}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	updated, err := svc.Update(context.Background(), owner.ID, owner.ID, UpdateInput{Name: &name})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("expected renamed profile, got %q", updated.Name)
	}
}
