package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/dbtest"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

type recordingTransport struct {
	calls []enums.CadenceEventKind
	err   error
}

func (r *recordingTransport) Send(_ context.Context, d Delivery) error {
	r.calls = append(r.calls, d.Event.Kind)
	return r.err
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	id := "msg-1"
	return &sesv2.SendEmailOutput{MessageId: &id}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "transport-test", Output: io.Discard})
}

func delivery(kind enums.CadenceEventKind, email string) Delivery {
	url := "https://app.pitchtrail.io/p/abc"
	company := "Acme"
	return Delivery{
		Event: models.CadenceEvent{
			ID:             uuid.New(),
			OrganizationID: uuid.New(),
			Kind:           kind,
			ScheduledFor:   time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC),
		},
		Proposal: models.Proposal{ID: uuid.New(), Title: "Website redesign", PublicURL: &url},
		Contact:  models.Contact{ID: uuid.New(), Email: email, FirstName: "Dana", LastName: "Kim", Company: &company},
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")
	if !IsPermanent(Permanent(base)) {
		t.Fatalf("permanent error not detected")
	}
	if IsPermanent(Transient(base)) {
		t.Fatalf("transient error misclassified")
	}
	if IsPermanent(base) {
		t.Fatalf("plain errors are transient")
	}
	if !errors.Is(Permanent(base), base) {
		t.Fatalf("permanent error should unwrap")
	}
	if Permanent(nil) != nil || Transient(nil) != nil {
		t.Fatalf("nil errors must stay nil")
	}
}

func TestRouterSelectsByKind(t *testing.T) {
	email := &recordingTransport{}
	call := &recordingTransport{}
	router, err := NewRouter(email, call)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	for _, kind := range []enums.CadenceEventKind{enums.CadenceKindEmailD1, enums.CadenceKindCallD7, enums.CadenceKindEmailD14SoftClose} {
		if err := router.Send(context.Background(), delivery(kind, "a@example.com")); err != nil {
			t.Fatalf("send %s: %v", kind, err)
		}
	}
	if len(email.calls) != 2 || len(call.calls) != 1 {
		t.Fatalf("unexpected routing email=%v call=%v", email.calls, call.calls)
	}

	err = router.Send(context.Background(), delivery("sms_d2", "a@example.com"))
	if !IsPermanent(err) {
		t.Fatalf("unknown kind should be permanent, got %v", err)
	}
}

func TestTemplatesRenderEveryKind(t *testing.T) {
	tpls, err := NewTemplates("Sam from PitchTrail")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	for _, kind := range []enums.CadenceEventKind{
		enums.CadenceKindEmailD1, enums.CadenceKindEmailD3, enums.CadenceKindCallD7, enums.CadenceKindEmailD14SoftClose,
	} {
		msg, err := tpls.Render(delivery(kind, "a@example.com"))
		if err != nil {
			t.Fatalf("render %s: %v", kind, err)
		}
		if !strings.Contains(msg.Subject, "Website redesign") {
			t.Fatalf("%s subject missing title: %q", kind, msg.Subject)
		}
		if msg.Body == "" {
			t.Fatalf("%s body empty", kind)
		}
	}

	msg, err := tpls.Render(delivery(enums.CadenceKindEmailD1, "a@example.com"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.Body, "Hi Dana") || !strings.Contains(msg.Body, "https://app.pitchtrail.io/p/abc") {
		t.Fatalf("unexpected body %q", msg.Body)
	}

	bare := delivery(enums.CadenceKindEmailD3, "a@example.com")
	bare.Contact.FirstName = ""
	bare.Proposal.PublicURL = nil
	msg, err = tpls.Render(bare)
	if err != nil {
		t.Fatalf("render bare: %v", err)
	}
	if !strings.Contains(msg.Body, "Hi there") || strings.Contains(msg.Body, "https://") {
		t.Fatalf("optional bindings should be omitted, got %q", msg.Body)
	}
}

func newSES(t *testing.T, client sesAPI) *SESTransport {
	t.Helper()
	tpls, err := NewTemplates("Sam")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	tr, err := NewSESTransport(SESParams{
		Client:    client,
		Templates: tpls,
		Config:    config.TransportConfig{FromAddress: "sam@pitchtrail.io", FromName: "Sam", ConfigSet: "cadence"},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("new ses transport: %v", err)
	}
	return tr
}

func TestSESTransportSendsEmail(t *testing.T) {
	client := &fakeSES{}
	tr := newSES(t, client)

	if err := tr.Send(context.Background(), delivery(enums.CadenceKindEmailD1, " dana@acme.com ")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.input == nil {
		t.Fatalf("ses not called")
	}
	if got := client.input.Destination.ToAddresses; len(got) != 1 || got[0] != "dana@acme.com" {
		t.Fatalf("unexpected recipients %v", got)
	}
	if *client.input.FromEmailAddress != "Sam <sam@pitchtrail.io>" {
		t.Fatalf("unexpected from %q", *client.input.FromEmailAddress)
	}
	if client.input.ConfigurationSetName == nil || *client.input.ConfigurationSetName != "cadence" {
		t.Fatalf("configuration set not applied")
	}
}

func TestSESTransportInvalidRecipientIsPermanent(t *testing.T) {
	client := &fakeSES{}
	tr := newSES(t, client)

	err := tr.Send(context.Background(), delivery(enums.CadenceKindEmailD3, "not-an-address"))
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if client.input != nil {
		t.Fatalf("ses should not be called for invalid recipients")
	}
}

func TestSESTransportClassifiesAPIErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "rejected", err: &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}, permanent: true},
		{name: "unverified domain", err: &smithy.GenericAPIError{Code: "MailFromDomainNotVerifiedException"}, permanent: true},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "TooManyRequestsException", Fault: smithy.FaultClient}},
		{name: "server", err: &smithy.GenericAPIError{Code: "InternalFailure", Fault: smithy.FaultServer}},
		{name: "timeout", err: context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newSES(t, &fakeSES{err: tc.err})
			err := tr.Send(context.Background(), delivery(enums.CadenceKindEmailD1, "dana@acme.com"))
			if err == nil {
				t.Fatalf("expected error")
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("permanent=%v, want %v (%v)", IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestTaskTransportCreatesOneTaskPerEvent(t *testing.T) {
	conn := dbtest.Open(t)
	tpls, err := NewTemplates("Sam")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	tr, err := NewTaskTransport(conn, tpls)
	if err != nil {
		t.Fatalf("new task transport: %v", err)
	}

	d := delivery(enums.CadenceKindCallD7, "dana@acme.com")
	for i := 0; i < 2; i++ {
		if err := tr.Send(context.Background(), d); err != nil {
			t.Fatalf("send #%d: %v", i, err)
		}
	}

	var tasks []models.FollowUpTask
	if err := conn.Find(&tasks).Error; err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task, got %d", len(tasks))
	}
	if tasks[0].EventID != d.Event.ID || tasks[0].Status != models.FollowUpTaskStatusOpen {
		t.Fatalf("unexpected task %+v", tasks[0])
	}
	if !strings.Contains(tasks[0].Script, "Acme") {
		t.Fatalf("script should mention the company, got %q", tasks[0].Script)
	}
}

func TestLogTransportNeverFails(t *testing.T) {
	tpls, err := NewTemplates("Sam")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	tr := NewLogTransport(tpls, testLogger())
	if err := tr.Send(context.Background(), delivery(enums.CadenceKindEmailD1, "dana@acme.com")); err != nil {
		t.Fatalf("log transport: %v", err)
	}
}
