package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"

	"github.com/glebarez/sqlite"
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/households"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/platform"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
)

const hookURL = "https://upg.example/api/formsync/v1/webhooks/submissions"

type mockClient struct {
	mock.Mock
}

var _ platform.Client = (*mockClient)(nil)

func formArg(args mock.Arguments) *platform.Form {
	if f, ok := args.Get(0).(*platform.Form); ok {
		return f
	}
	return nil
}

func (m *mockClient) CreateForm(ctx context.Context, name string, doc *schema.Document) (*platform.Form, error) {
	args := m.Called(ctx, name, doc)
	return formArg(args), args.Error(1)
}

func (m *mockClient) UpdateForm(ctx context.Context, uid string, doc *schema.Document, name string) (*platform.Form, error) {
	args := m.Called(ctx, uid, doc, name)
	return formArg(args), args.Error(1)
}

func (m *mockClient) DeployForm(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockClient) GetForm(ctx context.Context, uid string) (*platform.Form, error) {
	args := m.Called(ctx, uid)
	return formArg(args), args.Error(1)
}

func (m *mockClient) DeleteForm(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockClient) UploadFile(ctx context.Context, uid, filename string, content []byte) error {
	return m.Called(ctx, uid, filename, content).Error(0)
}

func (m *mockClient) RegisterWebhook(ctx context.Context, uid, endpoint string) error {
	return m.Called(ctx, uid, endpoint).Error(0)
}

func (m *mockClient) ListSubmissions(ctx context.Context, uid string) ([]json.RawMessage, error) {
	args := m.Called(ctx, uid)
	subs, _ := args.Get(0).([]json.RawMessage)
	return subs, args.Error(1)
}

func (m *mockClient) FindFormByName(ctx context.Context, name string) (*platform.Form, error) {
	args := m.Called(ctx, name)
	return formArg(args), args.Error(1)
}

var _ = ginkgo.Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		templates *forms.TemplateStore
		logs      *LogStore
		client    *mockClient
		reg       *prometheus.Registry
		orch      *Orchestrator
	)

	newTemplate := func(purpose forms.Purpose, status forms.TemplateStatus) *forms.FormTemplate {
		tpl, err := templates.Create(ctx, &forms.FormTemplate{
			Name:        "Household visit",
			Purpose:     purpose,
			Status:      status,
			SyncEnabled: true,
			Fields: []forms.FormField{
				{Name: "notes", Label: "Notes", Type: forms.FieldText},
				{Name: "visit_date", Label: "Visit date", Type: forms.FieldDate, Required: true},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return tpl
	}

	logsFor := func(id string) []SyncLogEntry {
		entries, _, _, err := logs.ListByTemplate(ctx, id, 0, "")
		Expect(err).NotTo(HaveOccurred())
		return entries
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:                                   logger.Default.LogMode(logger.Silent),
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		Expect(err).NotTo(HaveOccurred())

		templates = forms.NewTemplateStore(db)
		Expect(templates.AutoMigrate()).To(Succeed())
		refs := households.NewStore(db)
		Expect(refs.AutoMigrate()).To(Succeed())
		logs = NewLogStore(db)
		Expect(logs.AutoMigrate()).To(Succeed())

		client = &mockClient{}
		reg = prometheus.NewRegistry()
		cfg := DefaultConfig()
		cfg.WebhookURL = hookURL
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		orch = NewOrchestrator(templates, client, refs, logs, cfg, metrics.New(reg), quiet)
	})

	ginkgo.AfterEach(func() {
		client.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.Context("first push of a template", func() {
		ginkgo.It("creates, deploys, uploads the lookup datasets and registers the webhook", func() {
			tpl := newTemplate(forms.PurposeSurvey, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(&platform.Form{UID: "aX1", URL: "https://kf.example/aX1"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX1").Return(nil).Once()
			for _, name := range []string{"households.csv", "villages.csv", "business_groups.csv", "mentors.csv"} {
				client.On("UploadFile", mock.Anything, "aX1", name, mock.Anything).Return(nil).Once()
			}
			client.On("RegisterWebhook", mock.Anything, "aX1", hookURL).Return(nil).Once()

			report, err := orch.Sync(ctx, tpl.ID, Request{TriggeredBy: "admin@upg"})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Operation).To(Equal(OperationCreate))
			Expect(report.Status).To(Equal(forms.SyncSynced))
			Expect(report.ExternalID).To(Equal("aX1"))
			Expect(report.Warnings).To(BeEmpty())

			ginkgo.By("storing the external identity on the template")
			stored, err := templates.Get(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SyncStatus).To(Equal(forms.SyncSynced))
			Expect(stored.ExternalID).To(Equal("aX1"))
			Expect(stored.ExternalURL).To(Equal("https://kf.example/aX1"))
			Expect(stored.LastSyncedAt).NotTo(BeNil())

			ginkgo.By("appending exactly one log entry")
			entries := logsFor(tpl.ID)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ID).To(Equal(report.LogID))
			Expect(entries[0].Status).To(Equal(LogSuccess))
			Expect(entries[0].Trigger).To(Equal(TriggerManual))
			Expect(entries[0].TriggeredBy).To(Equal("admin@upg"))
			Expect(string(entries[0].RequestSnapshot)).To(ContainSubstring("visit_date"))

			Expect(testutil.ToFloat64(orch.metrics.SyncAttempts.WithLabelValues("synced", "manual"))).To(Equal(1.0))
		})

		ginkgo.It("adopts a platform form that already carries the template name", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(&platform.Form{UID: "old1"}, nil).Once()
			client.On("UpdateForm", mock.Anything, "old1", mock.Anything, "Household visit").
				Return(&platform.Form{UID: "old1"}, nil).Once()
			client.On("DeployForm", mock.Anything, "old1").Return(nil).Once()
			client.On("RegisterWebhook", mock.Anything, "old1", hookURL).Return(nil).Once()

			report, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Operation).To(Equal(OperationUpdate))
			Expect(report.ExternalID).To(Equal("old1"))
			client.AssertNotCalled(ginkgo.GinkgoT(), "CreateForm", mock.Anything, mock.Anything, mock.Anything)
		})
	})

	ginkgo.Context("push failures", func() {
		ginkgo.It("records sync_failed and a failed log entry when creation fails", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(nil, errors.New("platform unavailable")).Once()

			report, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).To(MatchError(ErrPushFailed))
			Expect(report.Status).To(Equal(forms.SyncFailed))
			Expect(report.Error).To(ContainSubstring("platform unavailable"))

			stored, err := templates.Get(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SyncStatus).To(Equal(forms.SyncFailed))
			Expect(stored.LastSyncError).To(ContainSubstring("platform unavailable"))
			Expect(stored.ExternalID).To(BeEmpty())

			entries := logsFor(tpl.ID)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Status).To(Equal(LogFailed))
			Expect(entries[0].Operation).To(Equal(OperationCreate))
		})

		ginkgo.It("keeps the external id obtained before a deploy failure", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(&platform.Form{UID: "aX2"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX2").Return(errors.New("deploy rejected")).Once()

			_, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).To(MatchError(ErrPushFailed))

			stored, err := templates.Get(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SyncStatus).To(Equal(forms.SyncFailed))
			Expect(stored.ExternalID).To(Equal("aX2"))

			ginkgo.By("retrying as an update of the kept form")
			client.On("UpdateForm", mock.Anything, "aX2", mock.Anything, "Household visit").
				Return(&platform.Form{UID: "aX2"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX2").Return(nil).Once()
			client.On("RegisterWebhook", mock.Anything, "aX2", hookURL).Return(nil).Once()

			report, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(forms.SyncSynced))
			Expect(logsFor(tpl.ID)).To(HaveLen(2))
		})

		ginkgo.It("reports partial success when an optional step fails", func() {
			tpl := newTemplate(forms.PurposeSurvey, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(&platform.Form{UID: "aX3"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX3").Return(nil).Once()
			client.On("UploadFile", mock.Anything, "aX3", "households.csv", mock.Anything).Return(errors.New("too large")).Once()
			client.On("UploadFile", mock.Anything, "aX3", mock.Anything, mock.Anything).Return(nil).Times(3)
			client.On("RegisterWebhook", mock.Anything, "aX3", hookURL).Return(nil).Once()

			report, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(forms.SyncSynced))
			Expect(report.Warnings).To(ContainElement(ContainSubstring("households.csv")))

			entries := logsFor(tpl.ID)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Status).To(Equal(LogPartial))
		})
	})

	ginkgo.Context("preconditions", func() {
		ginkgo.It("rejects a push while another one runs for the same template", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusActive)
			release, ok := orch.inFlight.Acquire(tpl.ID)
			Expect(ok).To(BeTrue())
			defer release()

			_, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).To(MatchError(ErrSyncInProgress))
			Expect(err.Error()).To(ContainSubstring("running since"))
			Expect(logsFor(tpl.ID)).To(BeEmpty())
		})

		ginkgo.It("refuses templates that are not active", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusDraft)
			_, err := orch.Sync(ctx, tpl.ID, Request{})
			Expect(err).To(MatchError(ErrNotSyncable))

			stored, err := templates.Get(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SyncStatus).To(Equal(forms.SyncNeverSynced))
		})

		ginkgo.It("returns the store error for an unknown template", func() {
			_, err := orch.Sync(ctx, "missing", Request{})
			Expect(err).To(MatchError(forms.ErrTemplateNotFound))
		})
	})

	ginkgo.Context("triggers", func() {
		ginkgo.It("pushes on first activation only", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusDraft)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(&platform.Form{UID: "aX4"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX4").Return(nil).Once()
			client.On("RegisterWebhook", mock.Anything, "aX4", hookURL).Return(nil).Once()

			act, err := templates.Activate(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			report, err := orch.OnActivated(ctx, act, "admin@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report).NotTo(BeNil())
			Expect(logsFor(tpl.ID)[0].Trigger).To(Equal(TriggerActivation))

			ginkgo.By("activating again without a new push")
			act, err = templates.Activate(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			report, err = orch.OnActivated(ctx, act, "admin@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report).To(BeNil())
		})

		ginkgo.It("leaves a template edited during its first push outdated", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusDraft)
			edited := append(slices.Clone(tpl.Fields), forms.FormField{Name: "q2_added", Label: "Added", Type: forms.FieldText})
			for i := range edited {
				edited[i].ID = ""
				edited[i].Position = 0
			}

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.MatchedBy(func(doc *schema.Document) bool {
				return !slices.Contains(doc.RowNames(), "q2_added")
			})).Run(func(mock.Arguments) {
				_, change, err := templates.UpdateContent(ctx, tpl.ID, forms.ContentUpdate{
					Name:    "Household visit",
					Purpose: forms.PurposeGeneral,
					Fields:  edited,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(change.Changed).To(BeTrue())
				Expect(change.VersionBumped).To(BeFalse())
			}).Return(&platform.Form{UID: "aX6"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX6").Return(nil).Twice()
			client.On("RegisterWebhook", mock.Anything, "aX6", hookURL).Return(nil).Twice()

			act, err := templates.Activate(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			report, err := orch.OnActivated(ctx, act, "admin@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(forms.SyncOutdated))

			stored, err := templates.Get(ctx, tpl.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SyncStatus).To(Equal(forms.SyncOutdated))
			Expect(stored.Fields).To(HaveLen(3))

			ginkgo.By("pushing the edited content on the next assignment")
			client.On("UpdateForm", mock.Anything, "aX6", mock.MatchedBy(func(doc *schema.Document) bool {
				return slices.Contains(doc.RowNames(), "q2_added")
			}), "Household visit").Return(&platform.Form{UID: "aX6"}, nil).Once()

			report, err = orch.EnsureSynced(ctx, tpl.ID, "mentor@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Operation).To(Equal(OperationUpdate))
			Expect(report.Status).To(Equal(forms.SyncSynced))
		})

		ginkgo.It("pushes before assignment only when the template needs it", func() {
			tpl := newTemplate(forms.PurposeGeneral, forms.StatusActive)

			client.On("FindFormByName", mock.Anything, "Household visit").Return(nil, nil).Once()
			client.On("CreateForm", mock.Anything, "Household visit", mock.Anything).
				Return(&platform.Form{UID: "aX5"}, nil).Once()
			client.On("DeployForm", mock.Anything, "aX5").Return(nil).Twice()
			client.On("RegisterWebhook", mock.Anything, "aX5", hookURL).Return(nil).Twice()

			report, err := orch.EnsureSynced(ctx, tpl.ID, "mentor@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(forms.SyncSynced))

			ginkgo.By("skipping a synced template")
			report, err = orch.EnsureSynced(ctx, tpl.ID, "mentor@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report).To(BeNil())

			ginkgo.By("pushing again after an edit")
			updated, change, err := templates.UpdateContent(ctx, tpl.ID, forms.ContentUpdate{
				Name:    "Household visit",
				Purpose: forms.PurposeGeneral,
				Fields:  []forms.FormField{{Name: "notes", Label: "Visit notes", Type: forms.FieldTextarea}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(change.VersionBumped).To(BeTrue())
			Expect(updated.SyncStatus).To(Equal(forms.SyncOutdated))

			client.On("UpdateForm", mock.Anything, "aX5", mock.Anything, "Household visit").
				Return(&platform.Form{UID: "aX5"}, nil).Once()

			report, err = orch.EnsureSynced(ctx, tpl.ID, "mentor@upg")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Operation).To(Equal(OperationUpdate))
			Expect(report.Status).To(Equal(forms.SyncSynced))

			entries := logsFor(tpl.ID)
			Expect(entries).To(HaveLen(2))
			for _, e := range entries {
				Expect(e.Trigger).To(Equal(TriggerAssignment))
			}
		})
	})
})
