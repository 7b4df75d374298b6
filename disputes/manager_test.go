package disputes

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/models"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. They validate the reconciliation
// semantics against in-memory fakes:
// - already-reconciled disputes (gateway marker or local ledger) are skipped
// - enforcement failures leave the gateway marker unwritten so the dispute retries
// - one dispute's failure never affects the others in the batch
//
// Full DB+Stripe integration tests need an environment with MySQL and a gateway stub.

type fakeGateway struct {
	disputes  []DisputeRecord
	listErr   error
	getErr    map[string]error
	updateErr map[string]error
	updates   map[string]map[string]string
	listCalls int
}

func newFakeGateway(disputes ...DisputeRecord) *fakeGateway {
	return &fakeGateway{
		disputes:  disputes,
		getErr:    map[string]error{},
		updateErr: map[string]error{},
		updates:   map[string]map[string]string{},
	}
}

func (g *fakeGateway) ListDisputes(ctx context.Context, createdAfter int64) ([]DisputeRecord, error) {
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]DisputeRecord, len(g.disputes))
	copy(out, g.disputes)
	return out, nil
}

func (g *fakeGateway) GetDispute(ctx context.Context, id string) (DisputeRecord, error) {
	if err := g.getErr[id]; err != nil {
		return DisputeRecord{}, err
	}
	for _, d := range g.disputes {
		if d.ID == id {
			return d, nil
		}
	}
	return DisputeRecord{}, errors.New("dispute not found")
}

func (g *fakeGateway) UpdateDisputeMetadata(ctx context.Context, id string, metadata map[string]string) (DisputeRecord, error) {
	if err := g.updateErr[id]; err != nil {
		return DisputeRecord{}, err
	}
	g.updates[id] = metadata
	for i := range g.disputes {
		if g.disputes[i].ID == id {
			if g.disputes[i].Metadata == nil {
				g.disputes[i].Metadata = map[string]string{}
			}
			for k, v := range metadata {
				g.disputes[i].Metadata[k] = v
			}
			return g.disputes[i], nil
		}
	}
	return DisputeRecord{}, errors.New("dispute not found")
}

type fakeStore struct {
	ledger        map[string]bool
	receipts      map[string]*models.PaymentReceipt
	accounts      map[int]*models.Account
	users         map[int]*models.User
	servers       map[int][]*models.Server
	activities    []models.NewActivity
	activityErr   map[models.ActivityAction]error
	cases         []*models.DisputeCase
	riskIPCalls   int
	riskCardCalls int
	riskErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ledger:      map[string]bool{},
		receipts:    map[string]*models.PaymentReceipt{},
		accounts:    map[int]*models.Account{},
		users:       map[int]*models.User{},
		servers:     map[int][]*models.Server{},
		activityErr: map[models.ActivityAction]error{},
	}
}

func (s *fakeStore) DisputeProcessed(ctx context.Context, disputeId string) (bool, error) {
	return s.ledger[disputeId], nil
}

func (s *fakeStore) ReceiptByReference(ctx context.Context, charge string) (*models.PaymentReceipt, error) {
	return s.receipts[charge], nil
}

func (s *fakeStore) AccountById(ctx context.Context, id int) (*models.Account, error) {
	return s.accounts[id], nil
}

func (s *fakeStore) PrimaryUser(ctx context.Context, accountId int) (*models.User, error) {
	return s.users[accountId], nil
}

func (s *fakeStore) Servers(ctx context.Context, userId int) ([]models.Server, error) {
	out := make([]models.Server, 0, len(s.servers[userId]))
	for _, server := range s.servers[userId] {
		out = append(out, *server)
	}
	return out, nil
}

func (s *fakeStore) QuarantineServer(ctx context.Context, serverId int) (bool, error) {
	for _, servers := range s.servers {
		for _, server := range servers {
			if server.ID != serverId {
				continue
			}
			if server.ValidationReason != models.ValidationReasonNone {
				return false, nil
			}
			server.ValidationReason = models.ValidationReasonChargeback
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) RecordActivity(ctx context.Context, input models.NewActivity) error {
	if err := s.activityErr[input.Action]; err != nil {
		return err
	}
	s.activities = append(s.activities, input)
	return nil
}

func (s *fakeStore) LogRiskyIPAddresses(ctx context.Context, account *models.Account) error {
	s.riskIPCalls++
	return s.riskErr
}

func (s *fakeStore) LogRiskyCards(ctx context.Context, account *models.Account) error {
	s.riskCardCalls++
	return s.riskErr
}

func (s *fakeStore) RecordDisputeCase(ctx context.Context, disputeCase *models.DisputeCase) error {
	s.cases = append(s.cases, disputeCase)
	s.ledger[disputeCase.DisputeId] = true
	return nil
}

func (s *fakeStore) activityCount(action models.ActivityAction) int {
	n := 0
	for _, a := range s.activities {
		if a.Action == action {
			n++
		}
	}
	return n
}

type fakeControl struct {
	shutdowns []int
	errFor    map[int]error
}

func newFakeControl() *fakeControl {
	return &fakeControl{errFor: map[int]error{}}
}

func (c *fakeControl) Shutdown(ctx context.Context, userId int, serverId int) error {
	if err := c.errFor[serverId]; err != nil {
		return err
	}
	c.shutdowns = append(c.shutdowns, serverId)
	return nil
}

type fakeNotifier struct {
	userNotices    int
	supportNotices int
	userErr        error
	supportErr     error
}

func (n *fakeNotifier) NotifyServerValidation(ctx context.Context, user *models.User, servers []models.Server) error {
	if n.userErr != nil {
		return n.userErr
	}
	n.userNotices++
	return nil
}

func (n *fakeNotifier) NotifySupportValidation(ctx context.Context, user *models.User, servers []models.Server) error {
	if n.supportErr != nil {
		return n.supportErr
	}
	n.supportNotices++
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(g Gateway, s Store, c ServerControl, n Notifier) *Manager {
	m := NewManager(g, s, c, n, testLogger())
	m.Now = func() time.Time {
		return time.Date(2026, 8, 27, 15, 4, 0, 0, time.UTC)
	}
	return m
}

// seedAccount wires charge "ch_1" to account 10, user 100, with the given
// servers.
func seedAccount(s *fakeStore, servers ...*models.Server) {
	s.receipts["ch_1"] = &models.PaymentReceipt{ID: 5, AccountId: 10, Reference: "ch_1", ReceiptNumber: "R-0005"}
	s.accounts[10] = &models.Account{ID: 10}
	s.users[10] = &models.User{ID: 100, AccountId: 10, Email: "owner@example.com"}
	s.servers[100] = servers
}

func freshDispute(id, charge string) DisputeRecord {
	return DisputeRecord{
		ID:       id,
		Charge:   charge,
		Amount:   4900,
		Currency: "usd",
		Reason:   "fraudulent",
		Status:   "needs_response",
		Metadata: map[string]string{},
	}
}

func TestReconcile_QuarantinesServersAndWritesBack(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store,
		&models.Server{ID: 1, UserId: 100, Identifier: "srv-a"},
		&models.Server{ID: 2, UserId: 100, Identifier: "srv-b", ValidationReason: models.ValidationReasonAbuseReport},
	)
	control := newFakeControl()
	notifier := &fakeNotifier{}

	manager := newTestManager(gateway, store, control, notifier)
	stats, reconcileErrors, fatal := manager.Reconcile(context.Background(), 7)

	if fatal != nil {
		t.Fatalf("unexpected fatal error: %v", fatal)
	}
	if len(reconcileErrors) != 0 {
		t.Fatalf("expected no errors, got %v", reconcileErrors)
	}
	if stats.Seen != 1 || stats.Processed != 1 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if len(control.shutdowns) != 1 || control.shutdowns[0] != 1 {
		t.Fatalf("expected shutdown of server 1 only, got %v", control.shutdowns)
	}
	if store.servers[100][0].ValidationReason != models.ValidationReasonChargeback {
		t.Fatalf("server 1 not quarantined: reason=%d", store.servers[100][0].ValidationReason)
	}
	if store.servers[100][1].ValidationReason != models.ValidationReasonAbuseReport {
		t.Fatalf("already-flagged server must keep its reason, got %d", store.servers[100][1].ValidationReason)
	}

	if n := store.activityCount(models.ActivityActionChargeback); n != 1 {
		t.Fatalf("expected 1 chargeback activity, got %d", n)
	}
	for _, a := range store.activities {
		if a.Action != models.ActivityActionChargeback {
			continue
		}
		if a.Params["amount"] != int64(4900) || a.Params["currency"] != "usd" {
			t.Fatalf("chargeback params missing amount/currency: %v", a.Params)
		}
		if a.Params["reason"] != "fraudulent" || a.Params["status"] != "needs_response" {
			t.Fatalf("chargeback params missing reason/status: %v", a.Params)
		}
		if a.Params["payment_receipt_id"] != 5 {
			t.Fatalf("chargeback params missing payment_receipt_id: %v", a.Params)
		}
	}
	if n := store.activityCount(models.ActivityActionShutdown); n != 1 {
		t.Fatalf("expected 1 shutdown activity, got %d", n)
	}
	if n := store.activityCount(models.ActivityActionValidation); n != 1 {
		t.Fatalf("expected 1 validation activity, got %d", n)
	}

	if notifier.userNotices != 1 || notifier.supportNotices != 1 {
		t.Fatalf("expected 1 user + 1 support notice, got %d/%d", notifier.userNotices, notifier.supportNotices)
	}
	if store.riskIPCalls != 1 || store.riskCardCalls != 1 {
		t.Fatalf("expected risk signals logged once, got %d/%d", store.riskIPCalls, store.riskCardCalls)
	}

	patch := gateway.updates["dp_1"]
	if patch == nil {
		t.Fatal("expected metadata writeback")
	}
	if patch[MetadataKeyReceiptId] != "5" || patch[MetadataKeyReceiptRef] != "R-0005" || patch[MetadataKeyAccount] != "10" {
		t.Fatalf("unexpected metadata patch: %v", patch)
	}

	if len(store.cases) != 1 || store.cases[0].DisputeId != "dp_1" || store.cases[0].SyncRunId != 7 {
		t.Fatalf("unexpected dispute cases: %+v", store.cases)
	}
}

func TestReconcile_SkipsDisputeAlreadyTaggedOnGateway(t *testing.T) {
	tagged := freshDispute("dp_1", "ch_1")
	tagged.Metadata[MetadataKeyReceiptId] = "5"
	gateway := newFakeGateway(tagged)
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100})
	control := newFakeControl()

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	stats, reconcileErrors, fatal := manager.Reconcile(context.Background(), 1)

	if fatal != nil || len(reconcileErrors) != 0 {
		t.Fatalf("unexpected errors: %v %v", fatal, reconcileErrors)
	}
	if stats.Skipped != 1 || stats.Processed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(control.shutdowns) != 0 || len(store.activities) != 0 {
		t.Fatal("tagged dispute must not trigger enforcement")
	}
}

func TestReconcile_SkipsDisputeInLocalLedger(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100})
	store.ledger["dp_1"] = true
	control := newFakeControl()

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 {
		t.Fatalf("unexpected errors: %v", reconcileErrors)
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected ledgered dispute skipped, stats=%+v", stats)
	}
	if len(control.shutdowns) != 0 {
		t.Fatal("ledgered dispute must not re-run enforcement")
	}
}

func TestReconcile_SkipsChargeWithoutReceipt(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_unknown"))
	store := newFakeStore()

	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 {
		t.Fatalf("unmatched charge must not be an error, got %v", reconcileErrors)
	}
	if stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if gateway.updates["dp_1"] != nil {
		t.Fatal("unmatched dispute must not be tagged")
	}
}

func TestReconcile_SkipsReceiptWithMissingAccount(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	store.receipts["ch_1"] = &models.PaymentReceipt{ID: 5, AccountId: 99, Reference: "ch_1"}

	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 {
		t.Fatalf("unexpected errors: %v", reconcileErrors)
	}
	if stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReconcile_MissingPrimaryUserIsEnforcementError(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	store.receipts["ch_1"] = &models.PaymentReceipt{ID: 5, AccountId: 10, Reference: "ch_1"}
	store.accounts[10] = &models.Account{ID: 10}

	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	_, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 1 || reconcileErrors[0].Kind != ErrorKindEnforcement {
		t.Fatalf("expected one enforcement error, got %v", reconcileErrors)
	}
	if gateway.updates["dp_1"] != nil {
		t.Fatal("failed dispute must stay untagged for retry")
	}
}

func TestReconcile_ShutdownFailureBlocksWriteback(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store,
		&models.Server{ID: 1, UserId: 100, Identifier: "srv-a"},
		&models.Server{ID: 2, UserId: 100, Identifier: "srv-b"},
	)
	control := newFakeControl()
	control.errFor[1] = errors.New("agent unreachable")

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 1 || reconcileErrors[0].Kind != ErrorKindEnforcement {
		t.Fatalf("expected one enforcement error, got %v", reconcileErrors)
	}
	if stats.Processed != 0 {
		t.Fatalf("failed dispute must not count as processed, stats=%+v", stats)
	}
	// The other server is still handled; the dispute just retries.
	if len(control.shutdowns) != 1 || control.shutdowns[0] != 2 {
		t.Fatalf("expected server 2 still shut down, got %v", control.shutdowns)
	}
	if store.servers[100][1].ValidationReason != models.ValidationReasonChargeback {
		t.Fatal("server 2 should be quarantined despite server 1 failing")
	}
	if gateway.updates["dp_1"] != nil {
		t.Fatal("writeback must be withheld while any server is unhandled")
	}
	if len(store.cases) != 0 {
		t.Fatal("failed dispute must not enter the ledger")
	}
}

func TestReconcile_RetryAfterPartialFailureSkipsQuarantinedServers(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store,
		&models.Server{ID: 1, UserId: 100, Identifier: "srv-a"},
		&models.Server{ID: 2, UserId: 100, Identifier: "srv-b"},
	)
	control := newFakeControl()
	control.errFor[1] = errors.New("agent unreachable")

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	if _, reconcileErrors, _ := manager.Reconcile(context.Background(), 1); len(reconcileErrors) != 1 {
		t.Fatalf("first run: expected one error, got %v", reconcileErrors)
	}

	// Agent comes back; the retry only touches the failed server.
	delete(control.errFor, 1)
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 2)

	if len(reconcileErrors) != 0 {
		t.Fatalf("retry should succeed, got %v", reconcileErrors)
	}
	if stats.Processed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := control.shutdowns; len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("expected retry to shut down only server 1, shutdowns=%v", got)
	}
	if gateway.updates["dp_1"] == nil {
		t.Fatal("retry must complete the writeback")
	}
}

func TestReconcile_FailureIsolationBetweenDisputes(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_a", "ch_a"), freshDispute("dp_b", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})
	// dp_a's charge maps to an account whose enforcement fails.
	store.receipts["ch_a"] = &models.PaymentReceipt{ID: 9, AccountId: 20, Reference: "ch_a", ReceiptNumber: "R-0009"}
	store.accounts[20] = &models.Account{ID: 20}
	store.users[20] = &models.User{ID: 200, AccountId: 20}
	store.servers[200] = []*models.Server{{ID: 8, UserId: 200, Identifier: "srv-x"}}
	control := newFakeControl()
	control.errFor[8] = errors.New("agent unreachable")

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 1 || reconcileErrors[0].DisputeId != "dp_a" {
		t.Fatalf("expected exactly dp_a to fail, got %v", reconcileErrors)
	}
	if stats.Processed != 1 {
		t.Fatalf("dp_b should still process, stats=%+v", stats)
	}
	if gateway.updates["dp_b"] == nil || gateway.updates["dp_a"] != nil {
		t.Fatalf("only dp_b should be tagged: %v", gateway.updates)
	}
}

func TestReconcile_NoNoticesWhenAllServersAlreadyQuarantined(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store,
		&models.Server{ID: 1, UserId: 100, Identifier: "srv-a", ValidationReason: models.ValidationReasonBillingHold},
	)
	control := newFakeControl()
	notifier := &fakeNotifier{}

	manager := newTestManager(gateway, store, control, notifier)
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 || stats.Processed != 1 {
		t.Fatalf("dispute should still complete: errs=%v stats=%+v", reconcileErrors, stats)
	}
	if len(control.shutdowns) != 0 {
		t.Fatalf("held server must not be shut down again, got %v", control.shutdowns)
	}
	if notifier.userNotices != 0 || notifier.supportNotices != 0 {
		t.Fatalf("no new quarantine means no notices, got %d/%d", notifier.userNotices, notifier.supportNotices)
	}
	if gateway.updates["dp_1"] == nil {
		t.Fatal("dispute must still be tagged as reconciled")
	}
}

func TestReconcile_UserNoticeFailureBlocksWriteback(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})
	notifier := &fakeNotifier{userErr: errors.New("mailer down")}

	manager := newTestManager(gateway, store, newFakeControl(), notifier)
	_, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 1 || reconcileErrors[0].Kind != ErrorKindEnforcement {
		t.Fatalf("expected enforcement error, got %v", reconcileErrors)
	}
	if gateway.updates["dp_1"] != nil {
		t.Fatal("unnotified dispute must stay untagged for retry")
	}
}

func TestReconcile_SupportNoticeFailureDoesNotBlock(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})
	notifier := &fakeNotifier{supportErr: errors.New("webhook 500")}

	manager := newTestManager(gateway, store, newFakeControl(), notifier)
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 {
		t.Fatalf("support failure must not fail the dispute, got %v", reconcileErrors)
	}
	if stats.Processed != 1 || gateway.updates["dp_1"] == nil {
		t.Fatal("dispute should complete despite support notice failure")
	}
}

func TestReconcile_RiskLoggingFailureDoesNotBlock(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})
	store.riskErr = errors.New("duplicate index rebuild in progress")

	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 || stats.Processed != 1 {
		t.Fatalf("risk logging failure must not block: errs=%v stats=%+v", reconcileErrors, stats)
	}
}

func TestReconcile_WritebackFailureKeepsDisputeOutOfLedger(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	gateway.updateErr["dp_1"] = errors.New("rate limited")
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})

	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 1 || reconcileErrors[0].Kind != ErrorKindWriteback {
		t.Fatalf("expected writeback error, got %v", reconcileErrors)
	}
	if stats.Processed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.cases) != 0 {
		t.Fatal("failed writeback must not enter the ledger")
	}
}

func TestReconcile_ConcurrentTagDetectedAtWriteback(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})

	// Another worker tags the dispute between listing and writeback.
	for i := range gateway.disputes {
		gateway.disputes[i].Metadata = map[string]string{}
	}
	manager := newTestManager(gateway, store, newFakeControl(), &fakeNotifier{})
	manager.gateway = &taggingGateway{fakeGateway: gateway}

	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 1)

	if len(reconcileErrors) != 0 {
		t.Fatalf("concurrent tag is not an error, got %v", reconcileErrors)
	}
	if stats.Processed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if gateway.updates["dp_1"] != nil {
		t.Fatal("must not overwrite a concurrently written tag")
	}
}

// taggingGateway reports the dispute as tagged on refresh, simulating a
// concurrent worker winning the writeback.
type taggingGateway struct {
	*fakeGateway
}

func (g *taggingGateway) GetDispute(ctx context.Context, id string) (DisputeRecord, error) {
	d, err := g.fakeGateway.GetDispute(ctx, id)
	if err != nil {
		return d, err
	}
	d.Metadata = map[string]string{MetadataKeyReceiptId: "5"}
	return d, nil
}

func TestReconcile_SecondRunIsIdempotent(t *testing.T) {
	gateway := newFakeGateway(freshDispute("dp_1", "ch_1"))
	store := newFakeStore()
	seedAccount(store, &models.Server{ID: 1, UserId: 100, Identifier: "srv-a"})
	control := newFakeControl()

	manager := newTestManager(gateway, store, control, &fakeNotifier{})
	if _, errs, _ := manager.Reconcile(context.Background(), 1); len(errs) != 0 {
		t.Fatalf("first run failed: %v", errs)
	}

	stats, reconcileErrors, _ := manager.Reconcile(context.Background(), 2)
	if len(reconcileErrors) != 0 {
		t.Fatalf("second run errors: %v", reconcileErrors)
	}
	if stats.Processed != 0 || stats.Skipped != 1 {
		t.Fatalf("second run must skip, stats=%+v", stats)
	}
	if len(control.shutdowns) != 1 {
		t.Fatalf("shutdown must not repeat, got %v", control.shutdowns)
	}
	if len(store.cases) != 1 {
		t.Fatalf("ledger must hold one case, got %d", len(store.cases))
	}
}

func TestReconcile_ListFailureIsFatal(t *testing.T) {
	gateway := newFakeGateway()
	gateway.listErr = errors.New("connection refused")

	manager := newTestManager(gateway, newFakeStore(), newFakeControl(), &fakeNotifier{})
	_, _, fatal := manager.Reconcile(context.Background(), 1)

	if fatal == nil {
		t.Fatal("expected fatal error when listing fails")
	}
	var reconcileErr *ReconcileError
	if !errors.As(fatal, &reconcileErr) || reconcileErr.Kind != ErrorKindGateway {
		t.Fatalf("expected gateway-kind fatal, got %v", fatal)
	}
}

func TestCutoffSince(t *testing.T) {
	now := time.Date(2026, 8, 27, 15, 4, 5, 0, time.UTC)
	got := CutoffSince(now, time.UTC)
	want := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC).Unix()
	if got != want {
		t.Fatalf("cutoff = %d, want %d", got, want)
	}

	// Just after midnight still reaches back to yesterday's midnight.
	now = time.Date(2026, 8, 27, 0, 0, 1, 0, time.UTC)
	if got := CutoffSince(now, time.UTC); got != want {
		t.Fatalf("cutoff just after midnight = %d, want %d", got, want)
	}
}
