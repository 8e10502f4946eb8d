package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tasknest/go-mail/mail"
	"github.com/tasknest/go-mail/outbox"
	"github.com/tasknest/go-mail/smtp"
)

// fakeSender scripts the outcome of successive Send calls and records every
// message it saw.
type fakeSender struct {
	mutex    sync.Mutex
	results  []smtp.SendResult
	calls    int
	messages []*mail.Message
}

func (s *fakeSender) Send(message *mail.Message) (smtp.SendResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.messages = append(s.messages, message)
	result := s.results[len(s.results)-1]
	if s.calls < len(s.results) {
		result = s.results[s.calls]
	}
	s.calls++
	return result, nil
}

func (s *fakeSender) callCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls
}

func accepted() smtp.SendResult {
	return smtp.SendResult{Success: true, Attempted: true, MessageID: "<ok@example.com>"}
}

func rejected() smtp.SendResult {
	return smtp.SendResult{Attempted: true, Err: errors.New("transient failure")}
}

// waitForStatus polls the delivery until it reaches the wanted status or the
// deadline expires.
func waitForStatus(t *testing.T, manager *outbox.Manager, id string, want outbox.Status) *outbox.Delivery {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		delivery, err := manager.Delivery(context.Background(), id)
		if err != nil {
			t.Fatalf("Delivery lookup failed: %v", err)
		}
		if delivery.Status == want {
			return delivery
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivery %s never reached status %s", id, want)
	return nil
}

func TestManager_DeliversMessage(t *testing.T) {
	sender := &fakeSender{results: []smtp.SendResult{accepted()}}
	manager := outbox.NewManager(sender)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	delivery, err := manager.Enqueue(context.Background(), testMessage("to@example.com"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	final := waitForStatus(t, manager, delivery.ID, outbox.StatusSent)
	if final.MessageID != "<ok@example.com>" {
		t.Errorf("MessageID = %q", final.MessageID)
	}
	if final.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", final.Attempts)
	}
	if final.SentAt.IsZero() {
		t.Error("SentAt not recorded")
	}
}

func TestManager_RetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{results: []smtp.SendResult{rejected(), accepted()}}
	manager := outbox.NewManager(sender).
		WithRetryDelay(10 * time.Millisecond).
		WithRequeueInterval(10 * time.Millisecond)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	delivery, err := manager.Enqueue(context.Background(), testMessage("retry@example.com"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	final := waitForStatus(t, manager, delivery.ID, outbox.StatusSent)
	if final.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", final.Attempts)
	}
	if sender.callCount() != 2 {
		t.Errorf("sender called %d times, want 2", sender.callCount())
	}
}

func TestManager_ExhaustsAttempts(t *testing.T) {
	sender := &fakeSender{results: []smtp.SendResult{rejected()}}
	manager := outbox.NewManager(sender).
		WithMaxAttempts(2).
		WithRetryDelay(10 * time.Millisecond).
		WithRequeueInterval(10 * time.Millisecond)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	delivery, err := manager.Enqueue(context.Background(), testMessage("doomed@example.com"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	final := waitForStatus(t, manager, delivery.ID, outbox.StatusFailed)
	if final.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", final.Attempts)
	}
	if final.LastError == "" {
		t.Error("LastError not recorded")
	}

	stats, err := manager.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestManager_StartStop(t *testing.T) {
	manager := outbox.NewManager(&fakeSender{results: []smtp.SendResult{accepted()}})

	if manager.IsRunning() {
		t.Fatal("manager reports running before Start")
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !manager.IsRunning() {
		t.Fatal("manager does not report running after Start")
	}
	if err := manager.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if manager.IsRunning() {
		t.Error("manager reports running after Stop")
	}
	if err := manager.Stop(); err == nil {
		t.Error("second Stop should fail")
	}
}
