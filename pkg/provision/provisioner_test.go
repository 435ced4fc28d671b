package provision_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zapcore"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/mocks"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
	"github.com/fleetflea/geotab-admin/pkg/provision"
)

var _ = Describe("Provisioner", func() {
	var (
		ctrl        *gomock.Controller
		session     *mocks.ProvisionSession
		provisioner *provision.Provisioner
		out         *bytes.Buffer
		ctx         context.Context
		groups      []geotab.Entity
	)

	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		session = mocks.NewProvisionSession(ctrl)
		out = &bytes.Buffer{}
		groups = []geotab.Entity{
			{"id": "b2C", "name": "Drivers"},
			{"id": provision.CompanyGroupID, "name": "Organization"},
		}
		provisioner = &provision.Provisioner{
			Session: session,
			Candidates: []provision.Candidate{
				{First: "James", Last: "Carter"},
				{First: "Sarah", Last: "Mitchell"},
				{First: "Carlos", Last: "Ramirez"},
				{First: "Priya", Last: "Patel"},
			},
			Domain:   domain,
			Password: "Secret123!",
			Rand:     rand.New(rand.NewSource(seed)),
			Now:      func() time.Time { return fixedNow },
			Out:      out,
		}
	})

	It("creates missing drivers and assigns them", func() {
		existing := []geotab.Entity{{"id": "b1", "name": "james.carter@fleet.example"}}
		devices := makeDevices(5)
		targets := provision.Shuffle(rand.New(rand.NewSource(seed)), devices)

		var users []geotab.Entity
		var changes []provision.DriverChange
		gomock.InOrder(
			session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(existing, nil),
			session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil),
			session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, entity interface{}) (string, error) {
					user := entity.(geotab.Entity)
					Expect(user["companyGroups"]).To(Equal([]geotab.Ref{{ID: provision.CompanyGroupID}}))
					users = append(users, user)
					return fmt.Sprintf("u%d", len(users)), nil
				}).Times(3),
			session.EXPECT().Get(gomock.Any(), provision.TypeDevice, nil).Return(devices, nil),
			session.EXPECT().Add(gomock.Any(), provision.TypeDriverChange, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, entity interface{}) (string, error) {
					changes = append(changes, entity.(provision.DriverChange))
					return "c", nil
				}).Times(5),
		)

		report, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Candidates).To(Equal(4))
		Expect(report.Created).To(Equal(3))
		Expect(report.Skipped).To(Equal(1))
		Expect(report.Failed).To(BeZero())
		Expect(report.OK()).To(BeTrue())
		Expect(report.Assignment.Outcome).To(Equal(provision.Assigned))
		Expect(report.Assignment.Targets).To(Equal(5))

		Expect(users[0]["employeeNo"]).To(Equal("EMP002"))
		Expect(changes[3].Device.ID).To(Equal(targets[3].ID()))
		Expect(changes[3].Driver.ID).To(Equal("u1"))
		Expect(changes[4].Device.ID).To(Equal(targets[4].ID()))
		Expect(changes[4].Driver.ID).To(Equal("u2"))

		var table bytes.Buffer
		Expect(report.Print(&table)).To(Succeed())
		Expect(table.String()).To(ContainSubstring("created"))
		Expect(table.String()).To(ContainSubstring("assigned"))
		Expect(table.String()).ToNot(ContainSubstring("Failures"))
	})

	It("cycles three new drivers over five devices", func() {
		provisioner.Candidates = provisioner.Candidates[:3]
		devices := makeDevices(5)
		targets := provision.Shuffle(rand.New(rand.NewSource(seed)), devices)

		creates := 0
		assigned := make(map[string]string)
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeDevice, nil).Return(devices, nil)
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(
			func(context.Context, string, interface{}) (string, error) {
				creates++
				return fmt.Sprintf("u%d", creates), nil
			}).Times(3)
		session.EXPECT().Add(gomock.Any(), provision.TypeDriverChange, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, entity interface{}) (string, error) {
				change := entity.(provision.DriverChange)
				Expect(assigned).ToNot(HaveKey(change.Device.ID))
				assigned[change.Device.ID] = change.Driver.ID
				return "c", nil
			}).Times(5)

		report, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Created).To(Equal(3))
		Expect(assigned).To(HaveLen(5))
		for i, target := range targets {
			Expect(assigned[target.ID()]).To(Equal(fmt.Sprintf("u%d", i%3+1)))
		}
		Expect(assigned[targets[3].ID()]).To(Equal("u1"))
		Expect(assigned[targets[4].ID()]).To(Equal("u2"))
	})

	It("logs the fields of an existing user when debugging", func() {
		var logged bytes.Buffer
		log.SetOutput(zapcore.AddSync(&logged))
		log.SetLevel(log.LevelDebug)
		DeferCleanup(func() {
			log.SetLevel(log.LevelWarning)
			log.SetOutput(zapcore.Lock(os.Stderr))
		})
		provisioner.SkipAssign = true
		provisioner.Candidates = nil
		existing := []geotab.Entity{{"id": "b1", "name": "james.carter@fleet.example", "isDriver": true}}
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(existing, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)

		_, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(logged.String()).To(ContainSubstring("User fields: id, isDriver, name"))
		Expect(logged.String()).To(ContainSubstring("Existing user: james.carter@fleet.example"))
	})

	It("does not fetch devices when nothing was created", func() {
		existing := make([]geotab.Entity, 0, len(provisioner.Candidates))
		for _, c := range provisioner.Candidates {
			key, err := provision.DeriveKey(c, domain)
			Expect(err).ToNot(HaveOccurred())
			existing = append(existing, geotab.Entity{"name": key})
		}
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(existing, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)

		report, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Skipped).To(Equal(4))
		Expect(report.Assignment.Outcome).To(Equal(provision.NoDrivers))
		Expect(report.OK()).To(BeTrue())
	})

	It("reports a database without devices", func() {
		provisioner.Candidates = provisioner.Candidates[:1]
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).Return("u1", nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeDevice, nil).Return([]geotab.Entity{}, nil)

		report, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Created).To(Equal(1))
		Expect(report.Assignment.Outcome).To(Equal(provision.NoTargets))
	})

	It("aborts when existing users cannot be read", func() {
		errDenied := errors.New("permission denied")
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, errDenied)

		_, err := provisioner.Run(ctx)
		Expect(err).To(MatchError(errDenied))
	})

	It("aborts when the database has no groups", func() {
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(nil, nil)

		_, err := provisioner.Run(ctx)
		Expect(err).To(MatchError(provision.ErrNoGroups))
	})

	It("returns the partial report when devices cannot be read", func() {
		provisioner.Candidates = provisioner.Candidates[:1]
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).Return("u1", nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeDevice, nil).Return(nil, errors.New("timeout"))

		report, err := provisioner.Run(ctx)
		Expect(err).To(HaveOccurred())
		Expect(report).ToNot(BeNil())
		Expect(report.Created).To(Equal(1))
	})

	It("stops after creating when assignment is skipped", func() {
		provisioner.SkipAssign = true
		provisioner.Candidates = provisioner.Candidates[:1]
		session.EXPECT().Get(gomock.Any(), provision.TypeUser, nil).Return(nil, nil)
		session.EXPECT().Get(gomock.Any(), provision.TypeGroup, nil).Return(groups, nil)
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).Return("", errRejected).Times(2)

		report, err := provisioner.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Assignment).To(BeNil())
		Expect(report.Failed).To(Equal(1))
		Expect(report.OK()).To(BeFalse())

		var table bytes.Buffer
		Expect(report.Print(&table)).To(Succeed())
		Expect(table.String()).To(ContainSubstring("Failures"))
		Expect(table.String()).To(ContainSubstring("James Carter"))
	})

	It("validates settings before calling the server", func() {
		provisioner.Domain = "not a domain"
		_, err := provisioner.Run(ctx)
		Expect(err).To(MatchError(provision.ErrInvalidDomain))
	})
})
