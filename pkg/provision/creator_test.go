package provision_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/fleetflea/geotab-admin/mocks"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
	"github.com/fleetflea/geotab-admin/pkg/protocol"
	"github.com/fleetflea/geotab-admin/pkg/provision"
)

const domain = "fleet.example"

var errRejected = &geotab.RPCError{
	Name:    "JSONRPCError",
	Message: "rejected",
	Errors:  []geotab.RPCErrorDetail{{Name: "ArgumentException", Message: "securityGroups"}},
}

// addRecorder answers Add calls with sequential ids and records every submitted User.
type addRecorder struct {
	users []geotab.Entity
	fail  func(user geotab.Entity) error
}

func (a *addRecorder) add(_ context.Context, typeName string, entity interface{}) (string, error) {
	Expect(typeName).To(Equal(provision.TypeUser))
	user, ok := entity.(geotab.Entity)
	Expect(ok).To(BeTrue())
	a.users = append(a.users, user)
	if a.fail != nil {
		if err := a.fail(user); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("b%d", len(a.users)), nil
}

var _ = Describe("Creator", func() {
	var (
		ctrl     *gomock.Controller
		session  *mocks.ProvisionSession
		recorder *addRecorder
		creator  *provision.Creator
		out      *bytes.Buffer
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		session = mocks.NewProvisionSession(ctrl)
		recorder = &addRecorder{}
		out = &bytes.Buffer{}
		creator = &provision.Creator{
			Session:  session,
			Domain:   domain,
			Template: provision.UserTemplate{Password: "Secret123!", CompanyGroup: provision.CompanyGroupID},
			Out:      out,
		}
	})

	It("submits the full payload", func() {
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add)

		results, err := creator.Create(ctx, []provision.Candidate{{First: "Omar", Last: "Al-Rashid"}}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(provision.StatusCreated))
		Expect(results[0].ID).To(Equal("b1"))
		Expect(results[0].Variant).To(Equal("full"))

		user := recorder.users[0]
		Expect(user.Name()).To(Equal("omar.alrashid@fleet.example"))
		Expect(user["firstName"]).To(Equal("Omar"))
		Expect(user["lastName"]).To(Equal("Al-Rashid"))
		Expect(user["isDriver"]).To(BeTrue())
		Expect(user["employeeNo"]).To(Equal("EMP001"))
		Expect(user["password"]).To(Equal("Secret123!"))
		Expect(user["changePasswordRequired"]).To(BeFalse())
		Expect(user["companyGroups"]).To(Equal([]geotab.Ref{{ID: provision.CompanyGroupID}}))
		Expect(user["securityGroups"]).To(Equal([]geotab.Ref{{ID: provision.DefaultSecurityGroup}}))
		Expect(user["userAuthenticationType"]).To(Equal("BasicAuthentication"))
		Expect(out.String()).To(ContainSubstring("created [01] Omar Al-Rashid -> omar.alrashid@fleet.example"))
	})

	It("skips taken keys without calling the server", func() {
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(1)
		taken := provision.KeySet{}
		taken.Add("James.Carter@Fleet.Example")

		results, err := creator.Create(ctx, []provision.Candidate{
			{First: "James", Last: "Carter"},
			{First: "Sarah", Last: "Mitchell"},
		}, taken)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusSkipped))
		Expect(results[0].Attempts).To(BeZero())
		Expect(results[1].Status).To(Equal(provision.StatusCreated))
		Expect(recorder.users[0].Name()).To(Equal("sarah.mitchell@fleet.example"))
		Expect(taken.Has("sarah.mitchell@fleet.example")).To(BeTrue())
	})

	It("adds created keys to the set so duplicates in the batch are skipped", func() {
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(1)

		results, err := creator.Create(ctx, []provision.Candidate{
			{First: "Omar", Last: "Al-Rashid"},
			{First: "Omar", Last: "Al Rashid"},
		}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusCreated))
		Expect(results[1].Status).To(Equal(provision.StatusSkipped))
		Expect(results[1].Key).To(Equal(results[0].Key))
	})

	It("falls back to the reduced payload", func() {
		recorder.fail = func(user geotab.Entity) error {
			if _, ok := user["securityGroups"]; ok {
				return errRejected
			}
			return nil
		}
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(2)

		results, err := creator.Create(ctx, []provision.Candidate{{First: "Wei", Last: "Zhang"}}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusCreated))
		Expect(results[0].Attempts).To(Equal(2))
		Expect(results[0].Variant).To(Equal("without-security-groups"))
		Expect(results[0].ID).To(Equal("b2"))
		Expect(recorder.users[1]).ToNot(HaveKey("securityGroups"))
		Expect(recorder.users[1]).To(HaveKey("companyGroups"))
	})

	It("records a failure and continues with the next candidate", func() {
		recorder.fail = func(user geotab.Entity) error {
			if user.Name() == "wei.zhang@fleet.example" {
				return errRejected
			}
			return nil
		}
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(3)

		results, err := creator.Create(ctx, []provision.Candidate{
			{First: "Wei", Last: "Zhang"},
			{First: "Yuki", Last: "Tanaka"},
		}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusFailed))
		Expect(results[0].Attempts).To(Equal(2))
		Expect(results[0].Errs).To(HaveLen(2))
		Expect(errors.Is(results[0].Err(), errRejected)).To(BeTrue())
		Expect(results[1].Status).To(Equal(provision.StatusCreated))
		Expect(results[1].Key).To(Equal("yuki.tanaka@fleet.example"))

		drivers := provision.CreatedDrivers(results)
		Expect(drivers).To(Equal([]provision.Driver{{ID: "b3", Key: "yuki.tanaka@fleet.example", Name: "Yuki Tanaka"}}))
	})

	It("does not replay a create that may have been applied", func() {
		lost := &protocol.CommandError{Err: errors.New("connection reset"), PossibleSuccess: true}
		recorder.fail = func(geotab.Entity) error { return lost }
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(1)

		results, err := creator.Create(ctx, []provision.Candidate{{First: "Mei", Last: "Liu"}}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusFailed))
		Expect(results[0].Attempts).To(Equal(1))
	})

	It("skips a candidate the server reports as a duplicate", func() {
		duplicate := &geotab.RPCError{
			Name:   "JSONRPCError",
			Errors: []geotab.RPCErrorDetail{{Name: geotab.ExceptionDuplicate, Message: "User name already exists"}},
		}
		recorder.fail = func(geotab.Entity) error { return duplicate }
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add).Times(1)
		taken := provision.KeySet{}

		results, err := creator.Create(ctx, []provision.Candidate{
			{First: "Ana", Last: "Souza"},
			{First: "Ana", Last: "Souza"},
		}, taken)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusSkipped))
		Expect(results[0].Attempts).To(Equal(1))
		Expect(results[0].Err()).ToNot(HaveOccurred())
		Expect(results[1].Status).To(Equal(provision.StatusSkipped))
		Expect(results[1].Attempts).To(BeZero())
		Expect(taken.Has("ana.souza@fleet.example")).To(BeTrue())
		Expect(out.String()).To(ContainSubstring("skipped [01] Ana Souza: ana.souza@fleet.example already exists"))
	})

	Context("with a remote session", func() {
		var adds int

		answerAdd := func(body string) {
			adds = 0
			client := &http.Client{}
			httpmock.ActivateNonDefault(client)
			DeferCleanup(httpmock.DeactivateAndReset)
			httpmock.RegisterResponder(http.MethodPost, "https://my.geotab.com/apiv1", func(r *http.Request) (*http.Response, error) {
				var call struct {
					Method string `json:"method"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&call)).To(Succeed())
				if call.Method == "Authenticate" {
					return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
						"result": map[string]interface{}{
							"credentials": map[string]interface{}{"database": "demo", "userName": "admin@example.com", "sessionId": "s1"},
							"path":        "ThisServer",
						},
					})
				}
				Expect(call.Method).To(Equal("Add"))
				adds++
				return httpmock.NewStringResponse(http.StatusOK, body), nil
			})

			remote, err := geotab.New(geotab.Config{Database: "demo", UserName: "admin@example.com", Password: "hunter2", Client: client})
			Expect(err).ToNot(HaveOccurred())
			Expect(remote.Authenticate(ctx)).To(Succeed())
			creator.Session = remote
		}

		It("sends a single Add when the response cannot be read", func() {
			answerAdd(`{"result": "b1"`)

			results, err := creator.Create(ctx, []provision.Candidate{{First: "Mei", Last: "Liu"}}, provision.KeySet{})
			Expect(err).ToNot(HaveOccurred())
			Expect(adds).To(Equal(1))
			Expect(results[0].Status).To(Equal(provision.StatusFailed))
			Expect(protocol.MayHaveSucceeded(results[0].Err())).To(BeTrue())
		})

		It("sends a single Add when the response has no id", func() {
			answerAdd(`{"result": null}`)

			results, err := creator.Create(ctx, []provision.Candidate{{First: "Mei", Last: "Liu"}}, provision.KeySet{})
			Expect(err).ToNot(HaveOccurred())
			Expect(adds).To(Equal(1))
			Expect(results[0].Attempts).To(Equal(1))
		})

		It("still falls back after an explicit rejection", func() {
			answerAdd(`{"error": {"name": "JSONRPCError", "errors": [{"name": "ArgumentException", "message": "securityGroups"}]}}`)

			results, err := creator.Create(ctx, []provision.Candidate{{First: "Mei", Last: "Liu"}}, provision.KeySet{})
			Expect(err).ToNot(HaveOccurred())
			Expect(adds).To(Equal(2))
			Expect(results[0].Errs).To(HaveLen(2))
		})
	})

	It("fails candidates whose name has no usable characters without calling the server", func() {
		results, err := creator.Create(ctx, []provision.Candidate{{First: "!!", Last: "Smith"}}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(provision.StatusFailed))
		Expect(results[0].Err()).To(MatchError(provision.ErrEmptyName))
	})

	It("requires a driver password", func() {
		creator.Template.Password = ""
		_, err := creator.Create(ctx, provision.DefaultRoster(), provision.KeySet{})
		Expect(err).To(MatchError(provision.ErrNoDriverPassword))
	})

	It("uses a custom variant list", func() {
		creator.Variants = []provision.PayloadVariant{{Name: "minimal", Omit: []string{"securityGroups", "employeeNo"}}}
		session.EXPECT().Add(gomock.Any(), provision.TypeUser, gomock.Any()).DoAndReturn(recorder.add)

		results, err := creator.Create(ctx, []provision.Candidate{{First: "Jin", Last: "Park"}}, provision.KeySet{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Variant).To(Equal("minimal"))
		Expect(recorder.users[0]).ToNot(HaveKey("employeeNo"))
	})
})
