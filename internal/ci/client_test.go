package ci_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buildrelay.app/relay/internal/ci"
)

type recordedRequest struct {
	Method string
	Path   string
	Form   url.Values
	Header http.Header
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		mux      *http.ServeMux
		server   *httptest.Server
		client   *ci.Client
		mu       sync.Mutex
		requests []recordedRequest
	)

	record := func(r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Form: r.PostForm, Header: r.Header.Clone()})
	}

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)

		var err error
		client, err = ci.NewClient(ci.Credentials{ServerURL: server.URL + "/", UserID: "alice", Token: "tok"}, ci.Options{
			Timeout:      2 * time.Second,
			RetryMax:     1,
			RetryWaitMin: time.Millisecond,
			RetryWaitMax: 2 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("rejects urls without a scheme", func() {
		_, err := ci.NewClient(ci.Credentials{ServerURL: "jenkins.example.com"}, ci.DefaultOptions())
		Expect(err).To(MatchError(ci.ErrInvalidServerURL))
	})

	It("builds nested job urls", func() {
		Expect(client.JobURL("app/ci")).To(Equal(server.URL + "/job/app/job/ci"))
	})

	It("lists only folder-type entries at the root", func() {
		mux.HandleFunc("/api/json", func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			Expect(ok).To(BeTrue())
			Expect(user).To(Equal("alice"))
			Expect(pass).To(Equal("tok"))
			_, _ = io.WriteString(w, `{"jobs":[
				{"name":"app","_class":"com.cloudbees.hudson.plugins.folder.Folder"},
				{"name":"loose-job","_class":"hudson.model.FreeStyleProject"},
				{"name":"games","_class":"jenkins.branch.OrganizationFolder"}
			]}`)
		})

		folders, err := client.ListFolders(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(folders).To(Equal([]string{"app", "games"}))
	})

	It("lists jobs inside a folder", func() {
		mux.HandleFunc("/job/app/api/json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"jobs":[{"name":"ci"},{"name":"nightly"}]}`)
		})

		jobs, err := client.ListJobs(ctx, "app")
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(Equal([]string{"ci", "nightly"}))
	})

	It("reads both parameter shapes", func() {
		mux.HandleFunc("/job/app/job/ci/api/json", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Query().Get("depth")).To(Equal("2"))
			_, _ = io.WriteString(w, `{"property":[
				{"_class":"hudson.model.ParametersDefinitionProperty","parameterDefinitions":[
					{"name":"GIT_BRANCH","choices":["main","develop"]},
					{"name":"BUILD_TARGET","allValueItems":{"values":[{"name":"Android","value":"android"},{"name":"iOS","value":"ios"}]}}
				]},
				{"_class":"jenkins.model.BuildDiscarderProperty"}
			]}`)
		})

		params, err := client.Parameters(ctx, "app/ci")
		Expect(err).NotTo(HaveOccurred())
		Expect(params.Choices("GIT_BRANCH")).To(Equal([]string{"main", "develop"}))
		Expect(params.Choices("BUILD_TARGET")).To(Equal([]string{"android", "ios"}))
		Expect(params.Choices("MISSING")).To(BeEmpty())
	})

	It("triggers a build with a crumb and returns the queue item", func() {
		mux.HandleFunc("/crumbIssuer/api/json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"crumbRequestField":"Jenkins-Crumb","crumb":"abc"}`)
		})
		mux.HandleFunc("/job/app/job/ci/buildWithParameters", func(w http.ResponseWriter, r *http.Request) {
			record(r)
			w.Header().Set("Location", server.URL+"/queue/item/77/")
			w.WriteHeader(http.StatusCreated)
		})

		item, err := client.TriggerBuild(ctx, "app/ci", map[string]string{"GIT_BRANCH": "main", "BUILD_REQUEST_ID": "r1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(item).To(Equal(int64(77)))

		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Method).To(Equal(http.MethodPost))
		Expect(requests[0].Header.Get("Jenkins-Crumb")).To(Equal("abc"))
		Expect(requests[0].Form.Get("GIT_BRANCH")).To(Equal("main"))
		Expect(requests[0].Form.Get("BUILD_REQUEST_ID")).To(Equal("r1"))
	})

	It("skips the crumb when the issuer is absent", func() {
		mux.HandleFunc("/job/app/job/ci/buildWithParameters", func(w http.ResponseWriter, r *http.Request) {
			record(r)
			w.WriteHeader(http.StatusCreated)
		})

		_, err := client.TriggerBuild(ctx, "app/ci", map[string]string{"GIT_BRANCH": "main"})
		Expect(err).NotTo(HaveOccurred())
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Header.Get("Jenkins-Crumb")).To(BeEmpty())
	})

	It("does not retry a failed trigger", func() {
		mux.HandleFunc("/job/app/job/ci/buildWithParameters", func(w http.ResponseWriter, r *http.Request) {
			record(r)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.TriggerBuild(ctx, "app/ci", nil)
		Expect(errors.Is(err, ci.ErrUnavailable)).To(BeTrue())
		Expect(requests).To(HaveLen(1))
	})

	It("classifies auth failures and summarizes html bodies", func() {
		mux.HandleFunc("/me/api/json", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "<html><head><title>Error 401 Unauthorized</title></head><body>secret stack</body></html>")
		})

		_, err := client.WhoAmI(ctx)
		Expect(errors.Is(err, ci.ErrUnauthorized)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("HTML Error: Error 401 Unauthorized"))
		Expect(err.Error()).NotTo(ContainSubstring("secret stack"))
		Expect(ci.Describe(err)).To(Equal("Jenkins rejected your credentials. Please /login again."))
	})

	It("returns the identity", func() {
		mux.HandleFunc("/me/api/json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"alice","fullName":"Alice Liddell"}`)
		})

		id, err := client.WhoAmI(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(id.FullName).To(Equal("Alice Liddell"))
	})

	It("reports missing workspace files as not found", func() {
		_, err := client.WorkspaceFile(ctx, "app/ci", "build_info.properties")
		Expect(errors.Is(err, ci.ErrNotFound)).To(BeTrue())
	})

	It("reads workspace files", func() {
		mux.HandleFunc("/job/app/job/ci/ws/build_info.properties", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "LATEST_BUILD_FILE=/builds/app.apk\n")
		})

		body, err := client.WorkspaceFile(ctx, "app/ci", "build_info.properties")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("LATEST_BUILD_FILE"))
	})

	It("treats an unreachable server as unavailable", func() {
		server.Close()
		_, err := client.ListFolders(ctx)
		Expect(errors.Is(err, ci.ErrUnavailable)).To(BeTrue())
		Expect(ci.Describe(err)).To(ContainSubstring("unreachable"))
	})
})
