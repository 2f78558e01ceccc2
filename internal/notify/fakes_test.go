package notify_test

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/notify"
	"buildrelay.app/relay/internal/service"
	"buildrelay.app/relay/internal/store"
)

type sent struct {
	ChatID int64
	Text   chat.Text
}

type edited struct {
	ChatID    int64
	MessageID int
	Text      chat.Text
}

type document struct {
	ChatID int64
	Name   string
	Body   string
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	sends  []sent
	edits  []edited
	docs   []document

	// sendErrAt fails the nth Send (1-based) with sendErr; zero disables it.
	sendErrAt int
	sendErr   error
	docErr    error
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, msg chat.Text) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.sendErrAt == f.nextID {
		return 0, f.sendErr
	}
	f.sends = append(f.sends, sent{ChatID: chatID, Text: msg})
	return 500 + f.nextID, nil
}

func (f *fakeMessenger) Edit(_ context.Context, chatID int64, messageID int, msg chat.Text) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edited{ChatID: chatID, MessageID: messageID, Text: msg})
	return nil
}

func (f *fakeMessenger) Answer(context.Context, string, string, bool) error {
	return nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, chatID int64, doc chat.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return f.docErr
	}
	body, err := io.ReadAll(doc.Reader)
	if err != nil {
		return err
	}
	f.docs = append(f.docs, document{ChatID: chatID, Name: doc.Name, Body: string(body)})
	return nil
}

func (f *fakeMessenger) Sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}

func (f *fakeMessenger) Edits() []edited {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]edited(nil), f.edits...)
}

func (f *fakeMessenger) Docs() []document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]document(nil), f.docs...)
}

type fakeLedger struct {
	mu    sync.Mutex
	rows  map[string]*model.BuildRequest
	err   error
	calls int
}

func (f *fakeLedger) Correlate(_ context.Context, requestID, jobPath string, buildNumber int64) (*model.BuildRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	req, ok := f.rows[requestID]
	if !ok {
		for _, r := range f.rows {
			if r.JobPath == jobPath {
				req, ok = r, true
			}
		}
	}
	if !ok {
		return nil, service.ErrNoBuildRequest
	}
	if req.BuildNumber == nil {
		n := buildNumber
		req.BuildNumber = &n
	}
	cp := *req
	return &cp, nil
}

type fakeServer struct {
	ci.Server

	mu             sync.Mutex
	workspace      map[string]string
	workspaceErr   error
	workspaceCalls int
}

func (f *fakeServer) JobURL(jobPath string) string {
	return "https://ci.example.com/job/" + strings.ReplaceAll(jobPath, "/", "/job/")
}

func (f *fakeServer) WorkspaceFile(_ context.Context, _, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaceCalls++
	if f.workspaceErr != nil {
		return nil, f.workspaceErr
	}
	data, ok := f.workspace[name]
	if !ok {
		return nil, ci.ErrNotFound
	}
	return []byte(data), nil
}

type fakeClients struct {
	server *fakeServer
	err    error
	users  []int64
}

func (f *fakeClients) ClientFor(_ context.Context, userID int64) (ci.Server, error) {
	f.users = append(f.users, userID)
	if f.err != nil {
		return nil, f.err
	}
	return f.server, nil
}

type fakeArtifacts struct {
	mu     sync.Mutex
	files  map[string]string
	errs   map[string]error
	opened []string
}

func (f *fakeArtifacts) Open(_ context.Context, path string) (*store.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	body, ok := f.files[path]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	return &store.Artifact{
		ReadCloser: io.NopCloser(strings.NewReader(body)),
		Name:       filepath.Base(path),
		Size:       int64(len(body)),
	}, nil
}

func (f *fakeArtifacts) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

type fakeProcessor struct {
	mu     sync.Mutex
	events []notify.Event
	block  chan struct{}
	panics bool
}

func (f *fakeProcessor) Process(_ context.Context, ev notify.Event) (notify.Result, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("pipeline exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return notify.Result{Outcome: notify.OutcomeDelivered}, nil
}

func (f *fakeProcessor) Events() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Event(nil), f.events...)
}
