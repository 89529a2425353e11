package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hivemail/hivemail/internal/account"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal("failed to open test DB:", err)
	}
	if err := db.AutoMigrate(&AccountRow{}, &MessageRow{}); err != nil {
		t.Fatal("failed to migrate:", err)
	}
	return db
}

func testRepo(t *testing.T) (*Repo, *GormMutator) {
	t.Helper()
	db := testDB(t)
	log := zap.NewNop().Sugar()
	return NewRepo(db, log), NewMutator(db, log)
}

func seqID(n int) string {
	return fmt.Sprintf("%024x", n)
}

func seedRow(t *testing.T, db *gorm.DB, row AccountRow) {
	t.Helper()
	if err := db.Create(&row).Error; err != nil {
		t.Fatal("seed:", err)
	}
}

func TestRepoGetNotFound(t *testing.T) {
	repo, _ := testRepo(t)
	if _, err := repo.Get(context.Background(), seqID(1)); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByUnameview(context.Background(), "nobody"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMutatorCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, mut := testRepo(t)

	targets, err := account.ClassifyTargets([]string{"fwd@example.com", "https://hook.example/in"})
	if err != nil {
		t.Fatal(err)
	}
	id, err := mut.Create(ctx, account.NewAccount{
		Username: "john.doe",
		Password: account.PasswordValue{Set: true, Password: "hunter22"},
		Address:  "John.Doe@Example.com",
		Name:     "John Doe",
		Tags:     []string{"b", "A", "a"},
		Targets:  targets,
		Limits:   account.Limits{Quota: 5 << 20},
	})
	if err != nil {
		t.Fatal("Create:", err)
	}
	if !account.ValidID(id) {
		t.Fatalf("Create returned malformed id %q", id)
	}

	a, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal("Get:", err)
	}
	if a.Username != "john.doe" || a.Unameview != "johndoe" {
		t.Errorf("username/unameview = %q/%q", a.Username, a.Unameview)
	}
	if !a.HasPassword || a.HasTempPassword {
		t.Errorf("credential flags = %v/%v", a.HasPassword, a.HasTempPassword)
	}
	if len(a.Tags) != 2 || a.Tags[0] != "A" || a.Tags[1] != "b" {
		t.Errorf("tags = %v, want [A b]", a.Tags)
	}
	if len(a.Targets) != 2 || a.Targets[0].Type != account.TargetMail || a.Targets[1].Type != account.TargetHTTP {
		t.Errorf("targets not persisted in order: %v", a.Targets)
	}
	if !a.Activated || a.Disabled {
		t.Errorf("new account activated=%v disabled=%v", a.Activated, a.Disabled)
	}

	// Resolution runs on the dot-stripped view.
	byView, err := repo.GetByUnameview(ctx, "johndoe")
	if err != nil || byView.ID != id {
		t.Errorf("GetByUnameview = %v, %v", byView, err)
	}
}

func TestMutatorCreateDuplicateUnameview(t *testing.T) {
	ctx := context.Background()
	_, mut := testRepo(t)

	if _, err := mut.Create(ctx, account.NewAccount{Username: "john.doe"}); err != nil {
		t.Fatal(err)
	}
	// Same view, different dotting.
	_, err := mut.Create(ctx, account.NewAccount{Username: "johndoe"})
	if !errors.Is(err, account.ErrUserExists) {
		t.Errorf("err = %v, want ErrUserExists", err)
	}
}

func TestMutatorUpdate(t *testing.T) {
	ctx := context.Background()
	repo, mut := testRepo(t)

	id, err := mut.Create(ctx, account.NewAccount{
		Username: "jane",
		Password: account.PasswordValue{Set: true, Password: "initial"},
		Tags:     []string{"old"},
	})
	if err != nil {
		t.Fatal(err)
	}

	name := "Jane Q."
	noPassword := account.PasswordValue{}
	err = mut.Update(ctx, id, account.Update{
		Name:     &name,
		Password: &noPassword,
		Tags:     []string{"New", "Fresh"},
		HasTags:  true,
	})
	if err != nil {
		t.Fatal("Update:", err)
	}

	a, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != name {
		t.Errorf("name = %q, want %q", a.Name, name)
	}
	if a.HasPassword {
		t.Error("password false did not clear the credential")
	}
	if len(a.Tags) != 2 || a.Tags[0] != "Fresh" || a.Tags[1] != "New" {
		t.Errorf("tags = %v, want full replacement [Fresh New]", a.Tags)
	}
	if len(a.Tagsview) != 2 || a.Tagsview[0] != "fresh" {
		t.Errorf("tagsview = %v", a.Tagsview)
	}

	if err := mut.Update(ctx, seqID(99), account.Update{Name: &name}); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("update of missing account: %v, want ErrNotFound", err)
	}
}

func TestMutatorResetPassword(t *testing.T) {
	ctx := context.Background()
	repo, mut := testRepo(t)

	id, err := mut.Create(ctx, account.NewAccount{
		Username: "jane",
		Password: account.PasswordValue{Set: true, Password: "initial"},
	})
	if err != nil {
		t.Fatal(err)
	}

	validAfter := time.Now().Add(time.Hour).Truncate(time.Second)
	password, err := mut.ResetPassword(ctx, id, validAfter)
	if err != nil {
		t.Fatal("ResetPassword:", err)
	}
	if len(password) != tempPasswordLen {
		t.Errorf("password length = %d, want %d", len(password), tempPasswordLen)
	}

	a, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.HasPassword {
		t.Error("permanent credential survived the reset")
	}
	if !a.HasTempPassword {
		t.Error("temporary credential missing")
	}
	if !a.TempValidAfter.Equal(validAfter) {
		t.Errorf("validAfter = %v, want %v", a.TempValidAfter, validAfter)
	}
	if !a.HasPasswordSet() {
		t.Error("hasPasswordSet must count the temporary credential")
	}

	if _, err := mut.ResetPassword(ctx, seqID(99), time.Now()); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("reset of missing account: %v, want ErrNotFound", err)
	}
}

func TestMutatorDelete(t *testing.T) {
	ctx := context.Background()
	repo, mut := testRepo(t)

	id, err := mut.Create(ctx, account.NewAccount{Username: "jane"})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AddMessage(ctx, id, 512); err != nil {
		t.Fatal(err)
	}

	if err := mut.Delete(ctx, id); err != nil {
		t.Fatal("Delete:", err)
	}
	if _, err := repo.Get(ctx, id); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("account survived delete: %v", err)
	}
	if sum, err := repo.RecomputeStorage(ctx, id); err != nil || sum != 0 {
		t.Errorf("messages survived delete: sum=%d err=%v", sum, err)
	}
	if err := mut.Delete(ctx, id); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("second delete: %v, want ErrNotFound", err)
	}
}

func TestQuotaRecompute(t *testing.T) {
	ctx := context.Background()
	repo, mut := testRepo(t)

	id, err := mut.Create(ctx, account.NewAccount{Username: "jane"})
	if err != nil {
		t.Fatal(err)
	}
	for _, size := range []int64{100, 250} {
		if err := repo.AddMessage(ctx, id, size); err != nil {
			t.Fatal(err)
		}
	}

	// The sum reflects the aggregation read. A message arriving after the
	// read is invisible until the next recompute.
	sum, err := repo.RecomputeStorage(ctx, id)
	if err != nil || sum != 350 {
		t.Fatalf("RecomputeStorage = %d, %v, want 350", sum, err)
	}
	if err := repo.AddMessage(ctx, id, 999); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetStorageUsed(ctx, id, sum); err != nil {
		t.Fatal(err)
	}

	a, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.StorageUsed != 350 {
		t.Errorf("storageUsed = %d, want the value of the aggregation read", a.StorageUsed)
	}

	if err := repo.SetStorageUsed(ctx, seqID(99), 0); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("SetStorageUsed on missing account: %v, want ErrNotFound", err)
	}
}

func seedAccounts(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		seedRow(t, db, AccountRow{
			ID:        seqID(i),
			Username:  fmt.Sprintf("user%d", i),
			Unameview: fmt.Sprintf("user%d", i),
			Address:   fmt.Sprintf("user%d@example.com", i),
		})
	}
}

func TestPagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewRepo(db, zap.NewNop().Sugar())
	seedAccounts(t, db, 5)

	first, err := repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if first.Total != 5 {
		t.Errorf("total = %d, want 5", first.Total)
	}
	if len(first.Accounts) != 2 {
		t.Fatalf("page 1 rows = %d, want 2", len(first.Accounts))
	}
	if first.Page != 1 || first.PreviousCursor != "" || first.NextCursor == "" {
		t.Errorf("page 1 shape: page=%d prev=%q next=%q", first.Page, first.PreviousCursor, first.NextCursor)
	}

	second, err := repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2, Page: 2, Next: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Accounts) != 2 || second.Accounts[0].ID != seqID(3) {
		t.Fatalf("page 2 starts at %v", second.Accounts)
	}
	if second.Page != 2 || second.PreviousCursor == "" {
		t.Errorf("page 2 shape: page=%d prev=%q", second.Page, second.PreviousCursor)
	}

	// Walking back lands on the exact first-page result set.
	back, err := repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2, Page: 2, Previous: second.PreviousCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Accounts) != 2 || back.Accounts[0].ID != seqID(1) || back.Accounts[1].ID != seqID(2) {
		t.Errorf("walk-back rows = %v", back.Accounts)
	}
	if back.Page != 1 || back.PreviousCursor != "" {
		t.Errorf("walk-back shape: page=%d prev=%q, want first page", back.Page, back.PreviousCursor)
	}
	if back.NextCursor == "" {
		t.Error("walk-back lost the next cursor")
	}
}

func TestPagerCursorRules(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewRepo(db, zap.NewNop().Sugar())
	seedAccounts(t, db, 5)

	first, err := repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}

	// Next takes precedence when both cursors are supplied.
	res, err := repo.List(ctx, account.ListFilter{}, PageRequest{
		Limit: 2, Page: 2,
		Next:     first.NextCursor,
		Previous: first.NextCursor,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accounts[0].ID != seqID(3) {
		t.Errorf("next did not win over previous: first row %s", res.Accounts[0].ID)
	}

	// Previous without a page hint > 1 falls back to the first page.
	res, err = repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2, Previous: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accounts[0].ID != seqID(1) {
		t.Errorf("previous honored without page hint: first row %s", res.Accounts[0].ID)
	}

	// A page hint with no cursor at all is forged and forced back to 1.
	res, err = repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 2, Page: 7})
	if err != nil {
		t.Fatal(err)
	}
	if res.Page != 1 {
		t.Errorf("forged page hint echoed: %d", res.Page)
	}

	if _, err := repo.List(ctx, account.ListFilter{}, PageRequest{Next: "%%%not-base64%%%"}); !errors.Is(err, ErrBadCursor) {
		t.Errorf("bad cursor: %v, want ErrBadCursor", err)
	}
}

func TestPagerLimitBounds(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewRepo(db, zap.NewNop().Sugar())
	seedAccounts(t, db, 25)

	res, err := repo.List(ctx, account.ListFilter{}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != DefaultPageSize {
		t.Errorf("default page size = %d, want %d", len(res.Accounts), DefaultPageSize)
	}

	res, err = repo.List(ctx, account.ListFilter{}, PageRequest{Limit: 100000})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != 25 {
		t.Errorf("oversized limit rows = %d", len(res.Accounts))
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewRepo(db, zap.NewNop().Sugar())

	seedRow(t, db, AccountRow{
		ID: seqID(1), Username: "alice", Unameview: "alice",
		Address: "Alice@Example.com",
		Tags:    []string{"VIP", "Work"}, Tagsview: []string{"vip", "work"},
	})
	seedRow(t, db, AccountRow{
		ID: seqID(2), Username: "bob", Unameview: "bob",
		Address: "bob@example.com",
		Tags:    []string{"Work"}, Tagsview: []string{"work"},
	})
	seedRow(t, db, AccountRow{
		ID: seqID(3), Username: "carol", Unameview: "carol",
		Address: "carol@other.net",
	})

	// Free-text query, case-insensitive on the address.
	res, err := repo.List(ctx, account.ListFilter{Query: "ALICE"}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != 1 || res.Accounts[0].Username != "alice" {
		t.Errorf("query filter rows = %v", res.Accounts)
	}

	// All-of filter.
	res, err = repo.List(ctx, account.ListFilter{RequiredTags: []string{"vip", "work"}}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != 1 || res.Accounts[0].Username != "alice" {
		t.Errorf("requiredTags rows = %v", res.Accounts)
	}

	// Any-of filter.
	res, err = repo.List(ctx, account.ListFilter{Tags: []string{"vip", "work"}}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != 2 {
		t.Errorf("tags rows = %d, want 2", len(res.Accounts))
	}

	// LIKE wildcards in the query match literally.
	res, err = repo.List(ctx, account.ListFilter{Query: "%"}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Accounts) != 0 {
		t.Errorf("wildcard leaked into the query filter: %d rows", len(res.Accounts))
	}
}
