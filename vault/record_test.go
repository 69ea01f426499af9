package vault_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	quickvault "github.com/alwitt/quickvault"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/keyvault"
	"github.com/alwitt/quickvault/models"
	"github.com/alwitt/quickvault/vault"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// buildTestVault prepare a full vault against a fresh temp database, with an
// open session
func buildTestVault(t *testing.T) *quickvault.Vault {
	assert := assert.New(t)
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/quickvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := quickvault.NewVault(
		utCtx,
		db.GetSqliteDialector(testDB),
		logger.Error,
		keyvault.NewSimulatedKeyring([]byte("test-keyring-pad")),
		quickvault.DefaultConfig(),
	)
	assert.Nil(err)
	assert.Nil(uut.Session.InitializeVault(utCtx, "the passphrase"))

	return uut
}

// TestVaultRecordRoundTrip verifies encrypted create / get / delete with
// fields, attachments, and thumbnails.
func TestVaultRecordRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	// 1 – Create a record with the works
	input := vault.RecordInput{
		Title: "Bank Login",
		Type:  models.RecordTypeCredential,
		Group: "finance",
		Tags:  []string{"bank", "important"},
		Fields: []vault.FieldInput{
			{Label: "username", Value: []byte("alice"), Required: true},
			{Label: "password", Value: []byte("hunter2"), Required: true},
			{Label: "note", Value: []byte("ask for manager")},
		},
		Attachments: []vault.AttachmentInput{
			{
				FileName:  "statement.pdf",
				MimeType:  "application/pdf",
				Body:      []byte("pdf bytes here"),
				Thumbnail: []byte("tiny preview"),
			},
		},
	}
	created, err := uut.Records.CreateRecord(utCtx, input)
	assert.Nil(err)
	assert.NotEmpty(created.ID)
	assert.Equal([]string{"bank", "important"}, created.Tags)

	// 2 – Only ciphertext ever reached the store
	err = uut.Persistence.RunSQLInTransaction(utCtx, func(_ context.Context, tx *gorm.DB) error {
		var rows []struct{ Ciphertext []byte }
		if err := tx.Raw("SELECT ciphertext FROM fields WHERE record_id = ?", created.ID).
			Scan(&rows).Error; err != nil {
			return err
		}
		assert.Len(rows, 3)
		for _, row := range rows {
			assert.NotContains(string(row.Ciphertext), "hunter2")
			assert.NotContains(string(row.Ciphertext), "alice")
		}
		return nil
	})
	assert.Nil(err)

	// 3 – Get back and verify the decrypted content
	readBack, err := uut.Records.GetRecord(utCtx, created.ID)
	assert.Nil(err)
	assert.Equal("Bank Login", readBack.Title)
	assert.Len(readBack.Fields, 3)
	assert.Equal("username", readBack.Fields[0].Label)
	assert.Equal([]byte("alice"), readBack.Fields[0].Value)
	assert.Equal([]byte("hunter2"), readBack.Fields[1].Value)
	assert.Len(readBack.Attachments, 1)
	assert.Equal([]byte("pdf bytes here"), readBack.Attachments[0].Body)
	assert.Equal([]byte("tiny preview"), readBack.Attachments[0].Thumbnail)
	assert.Equal(int64(len("pdf bytes here")), readBack.Attachments[0].Size)

	// -------------------------------------------------------------------------
	// 4 – Delete removes the record and its children
	assert.Nil(uut.Records.DeleteRecord(utCtx, created.ID))
	_, err = uut.Records.GetRecord(utCtx, created.ID)
	assert.Error(err)
	var notFound *models.NotFoundError
	assert.True(errors.As(err, &notFound))
}

// TestVaultLockedGating verifies every record operation refuses a closed
// session.
func TestVaultLockedGating(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	created, err := uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title:  "Email Account",
		Type:   models.RecordTypeCredential,
		Fields: []vault.FieldInput{{Label: "password", Value: []byte("secret")}},
	})
	assert.Nil(err)

	assert.Nil(uut.Session.Lock(utCtx))

	_, err = uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "x", Type: models.RecordTypeNote,
	})
	assert.True(errors.Is(err, models.ErrLocked))

	_, err = uut.Records.GetRecord(utCtx, created.ID)
	assert.True(errors.Is(err, models.ErrLocked))

	_, err = uut.Records.Search(utCtx, vault.SearchQuery{})
	assert.True(errors.Is(err, models.ErrLocked))

	assert.True(errors.Is(uut.Records.DeleteRecord(utCtx, created.ID), models.ErrLocked))
	assert.True(errors.Is(uut.Records.TogglePin(utCtx, created.ID, true), models.ErrLocked))
	assert.True(errors.Is(uut.Records.ClearAll(utCtx), models.ErrLocked))

	_, _, err = uut.Records.ObserveAll(utCtx)
	assert.True(errors.Is(err, models.ErrLocked))

	// Unlocking restores access, and the data survived the lock
	assert.Nil(uut.Session.UnlockWithPassphrase(utCtx, "the passphrase"))
	readBack, err := uut.Records.GetRecord(utCtx, created.ID)
	assert.Nil(err)
	assert.Equal([]byte("secret"), readBack.Fields[0].Value)
}

// TestVaultUpdateReplacesChildren verifies wholesale child replacement on
// update.
func TestVaultUpdateReplacesChildren(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	created, err := uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "Wifi",
		Type:  models.RecordTypeNote,
		Fields: []vault.FieldInput{
			{Label: "ssid", Value: []byte("homenet")},
			{Label: "password", Value: []byte("old-password")},
		},
	})
	assert.Nil(err)

	updated, err := uut.Records.UpdateRecord(utCtx, created.ID, vault.RecordInput{
		Title:  "Wifi (new router)",
		Type:   models.RecordTypeNote,
		Fields: []vault.FieldInput{{Label: "password", Value: []byte("new-password")}},
	})
	assert.Nil(err)
	assert.Equal(created.ID, updated.ID)

	readBack, err := uut.Records.GetRecord(utCtx, created.ID)
	assert.Nil(err)
	assert.Equal("Wifi (new router)", readBack.Title)
	assert.Len(readBack.Fields, 1)
	assert.Equal([]byte("new-password"), readBack.Fields[0].Value)
	// Creation time survives an update
	assert.Equal(created.CreatedAt, readBack.CreatedAt)
	assert.GreaterOrEqual(readBack.UpdatedAt, readBack.CreatedAt)

	// Updating a missing record reports not found
	_, err = uut.Records.UpdateRecord(utCtx, "11111111-2222-3333-4444-555555555555", vault.RecordInput{
		Title: "ghost", Type: models.RecordTypeNote,
	})
	assert.Error(err)
	var notFound *models.NotFoundError
	assert.True(errors.As(err, &notFound))
}

// TestVaultSearch verifies metadata search over title, group, and tags.
func TestVaultSearch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	seeds := []vault.RecordInput{
		{
			Title: "Bank Login", Type: models.RecordTypeCredential, Group: "finance",
			Tags:   []string{"bank"},
			Fields: []vault.FieldInput{{Label: "password", Value: []byte("hunter2")}},
		},
		{Title: "Credit Card", Type: models.RecordTypeCard, Group: "finance", Tags: []string{"bank", "travel"}},
		{Title: "Email Account", Type: models.RecordTypeCredential, Group: "personal"},
		{Title: "Passport Scan", Type: models.RecordTypeIdentity, Group: "personal", Tags: []string{"travel"}},
	}
	for _, seed := range seeds {
		_, err := uut.Records.CreateRecord(utCtx, seed)
		assert.Nil(err)
	}

	// 1 – Case-insensitive title substring
	needle := "cArD"
	matches, err := uut.Records.Search(utCtx, vault.SearchQuery{TitleSubstring: &needle})
	assert.Nil(err)
	assert.Len(matches, 1)
	assert.Equal("Credit Card", matches[0].Title)

	// 2 – Group equality
	group := "finance"
	matches, err = uut.Records.Search(utCtx, vault.SearchQuery{Group: &group})
	assert.Nil(err)
	assert.Len(matches, 2)

	// 3 – Tag match
	tag := "travel"
	matches, err = uut.Records.Search(utCtx, vault.SearchQuery{Tag: &tag})
	assert.Nil(err)
	assert.Len(matches, 2)
	for _, match := range matches {
		assert.True(
			match.Title == "Credit Card" || match.Title == "Passport Scan",
			"unexpected match %s", match.Title,
		)
	}

	// 4 – Matches come back with their children decrypted
	needle = "bank"
	matches, err = uut.Records.Search(utCtx, vault.SearchQuery{TitleSubstring: &needle})
	assert.Nil(err)
	assert.Len(matches, 1)
	assert.Len(matches[0].Fields, 1)
	assert.Equal("password", matches[0].Fields[0].Label)
	assert.Equal([]byte("hunter2"), matches[0].Fields[0].Value)
}

// TestVaultTamperDetection verifies that a modified ciphertext aborts the
// whole record fetch and leaves an audit event.
func TestVaultTamperDetection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	created, err := uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "Bank Login",
		Type:  models.RecordTypeCredential,
		Fields: []vault.FieldInput{
			{Label: "username", Value: []byte("alice")},
			{Label: "password", Value: []byte("hunter2")},
		},
	})
	assert.Nil(err)

	// Corrupt one field's ciphertext behind the store's back
	err = uut.Persistence.RunSQLInTransaction(utCtx, func(_ context.Context, tx *gorm.DB) error {
		return tx.Exec(
			"UPDATE fields SET ciphertext = ? WHERE record_id = ? AND label = ?",
			[]byte(strings.Repeat("x", 64)), created.ID, "password",
		).Error
	})
	assert.Nil(err)

	// 1 – The whole record fetch aborts, intact fields included
	_, err = uut.Records.GetRecord(utCtx, created.ID)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 2 – A tamper audit event was left behind
	err = uut.Persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListVaultEvents(ctx, db.VaultEventQueryFilter{
			EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeTamperDetected},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 1)
		assert.Contains(string(events[0].Metadata), created.ID)
		return nil
	})
	assert.Nil(err)
}

// TestVaultInputValidation verifies inputs are rejected before any state
// change.
func TestVaultInputValidation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := buildTestVault(t)
	defer func() { assert.Nil(uut.Close()) }()

	var invalid *models.ValidationError

	// 1 – Empty title
	_, err := uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "", Type: models.RecordTypeNote,
	})
	assert.Error(err)
	assert.True(errors.As(err, &invalid))

	// 2 – Title over the cap
	_, err = uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: strings.Repeat("a", 257), Type: models.RecordTypeNote,
	})
	assert.Error(err)
	assert.True(errors.As(err, &invalid))

	// 3 – Too many tags
	tags := []string{}
	for idx := 0; idx < 33; idx++ {
		tags = append(tags, fmt.Sprintf("tag-%d", idx))
	}
	_, err = uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "Tagged", Type: models.RecordTypeNote, Tags: tags,
	})
	assert.Error(err)
	assert.True(errors.As(err, &invalid))

	// 4 – Oversized attachment
	_, err = uut.Records.CreateRecord(utCtx, vault.RecordInput{
		Title: "Big", Type: models.RecordTypeNote,
		Attachments: []vault.AttachmentInput{{
			FileName: "big.bin",
			MimeType: "application/octet-stream",
			Body:     make([]byte, 26*1024*1024),
		}},
	})
	assert.Error(err)
	assert.True(errors.As(err, &invalid))

	// 5 – Nothing was persisted by any of the rejected calls
	matches, err := uut.Records.Search(utCtx, vault.SearchQuery{})
	assert.Nil(err)
	assert.Empty(matches)
}
