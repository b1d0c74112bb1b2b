package store

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "xino.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := openTestStore(t)

	acct, err := s.Register("Amina", "  Amina@Example.COM ", "hunter2")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if acct.Email != "amina@example.com" {
		t.Errorf("email not normalized: %q", acct.Email)
	}

	if _, err := s.Register("Other", "amina@example.com", "x"); !errors.Is(err, ErrAccountExists) {
		t.Errorf("duplicate register: expected ErrAccountExists, got %v", err)
	}

	got, err := s.Authenticate("AMINA@example.com", "hunter2")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if got.Name != "Amina" {
		t.Errorf("unexpected account name %q", got.Name)
	}

	if _, err := s.Authenticate("amina@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong password: expected ErrBadCredentials, got %v", err)
	}
	if _, err := s.Authenticate("nobody@example.com", "x"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown account: expected ErrAccountNotFound, got %v", err)
	}
}

func TestSessionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	email := "amina@example.com"

	sessions, err := s.LoadSessions(email)
	if err != nil {
		t.Fatalf("load on empty store failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected empty history, got %d sessions", len(sessions))
	}

	sess := NewChatSession("File Analysis")
	if sess.ID == "" || sess.Timestamp == 0 {
		t.Fatal("NewChatSession left ID or timestamp unset")
	}
	sess.Messages = append(sess.Messages,
		NewChatMessage("user", "analyze this document"),
		NewChatMessage("assistant", "Done."))

	if err := s.SaveSessions(email, []ChatSession{sess}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	sessions, err = s.LoadSessions(email)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID || len(sessions[0].Messages) != 2 {
		t.Fatalf("unexpected loaded sessions: %+v", sessions)
	}
	if sessions[0].Messages[1].Role != "assistant" || sessions[0].Messages[1].Content != "Done." {
		t.Errorf("message not preserved: %+v", sessions[0].Messages[1])
	}

	if err := s.ClearSessions(email); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	sessions, _ = s.LoadSessions(email)
	if len(sessions) != 0 {
		t.Errorf("history not cleared, got %d sessions", len(sessions))
	}
}

func TestSaveSessionsHonorsSaveHistoryOff(t *testing.T) {
	s := openTestStore(t)
	email := "amina@example.com"

	prefs := DefaultPrefs()
	prefs.SaveHistory = false
	if err := s.SetPrefs(email, prefs); err != nil {
		t.Fatalf("set prefs failed: %v", err)
	}

	if err := s.SaveSessions(email, []ChatSession{NewChatSession("x")}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	sessions, _ := s.LoadSessions(email)
	if len(sessions) != 0 {
		t.Error("sessions persisted despite saveHistory off")
	}
}

func TestPrefsDefaultsAndAvatar(t *testing.T) {
	s := openTestStore(t)
	email := "amina@example.com"

	prefs, err := s.Prefs(email)
	if err != nil {
		t.Fatalf("prefs failed: %v", err)
	}
	if prefs.Theme != "dark" || !prefs.SaveHistory || prefs.HighContrast {
		t.Errorf("unexpected defaults: %+v", prefs)
	}

	prefs.Theme = "light"
	prefs.HighContrast = true
	if err := s.SetPrefs(email, prefs); err != nil {
		t.Fatalf("set prefs failed: %v", err)
	}

	if err := s.SetAvatar(email, "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("set avatar failed: %v", err)
	}

	got, err := s.Prefs(email)
	if err != nil {
		t.Fatalf("prefs failed: %v", err)
	}
	if got.Theme != "light" || !got.HighContrast {
		t.Error("avatar update clobbered other prefs")
	}
	if got.AvatarDataURL != "data:image/png;base64,AAAA" {
		t.Errorf("avatar not saved: %q", got.AvatarDataURL)
	}
}
