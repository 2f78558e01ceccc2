package dialog_test

import (
	"context"
	"strings"
	"sync"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
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

type answered struct {
	CallbackID string
	Text       string
	Alert      bool
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sends   []sent
	edits   []edited
	answers []answered
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, msg chat.Text) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends = append(f.sends, sent{ChatID: chatID, Text: msg})
	return 100 + f.nextID, nil
}

func (f *fakeMessenger) Edit(_ context.Context, chatID int64, messageID int, msg chat.Text) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edited{ChatID: chatID, MessageID: messageID, Text: msg})
	return nil
}

func (f *fakeMessenger) Answer(_ context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answered{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeMessenger) SendDocument(context.Context, int64, chat.Document) error {
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

func (f *fakeMessenger) LastEdit() edited {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return edited{}
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeMessenger) LastAnswer() answered {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return answered{}
	}
	return f.answers[len(f.answers)-1]
}

func (f *fakeMessenger) AnswerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

// Button returns the callback data of the first button in the last edit whose
// label contains label.
func (f *fakeMessenger) Button(label string) string {
	for _, row := range f.LastEdit().Text.Keyboard {
		for _, b := range row {
			if strings.Contains(b.Label, label) {
				return b.Data
			}
		}
	}
	return ""
}

type fakeServer struct {
	mu sync.Mutex

	folders []string
	jobs    map[string][]string
	params  ci.ParameterSet

	folderErr  error
	jobsErr    error
	paramsErr  error
	triggerErr error

	// jobsGate, when set, blocks ListJobs until it is closed.
	jobsGate    chan struct{}
	jobsEntered chan struct{}

	listFolderCalls int
	listJobsCalls   int
	paramCalls      int
	triggers        []map[string]string
}

var _ ci.Server = (*fakeServer)(nil)

func (f *fakeServer) ListFolders(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFolderCalls++
	return f.folders, f.folderErr
}

func (f *fakeServer) ListJobs(_ context.Context, folder string) ([]string, error) {
	f.mu.Lock()
	f.listJobsCalls++
	gate, entered := f.jobsGate, f.jobsEntered
	jobs, err := f.jobs[folder], f.jobsErr
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	return jobs, err
}

func (f *fakeServer) Parameters(context.Context, string) (ci.ParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paramCalls++
	return f.params, f.paramsErr
}

func (f *fakeServer) TriggerBuild(_ context.Context, _ string, params map[string]string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return 0, f.triggerErr
	}
	f.triggers = append(f.triggers, params)
	return int64(len(f.triggers)), nil
}

func (f *fakeServer) WhoAmI(context.Context) (*ci.Identity, error) {
	return &ci.Identity{ID: "alice"}, nil
}

func (f *fakeServer) WorkspaceFile(context.Context, string, string) ([]byte, error) {
	return nil, ci.ErrNotFound
}

func (f *fakeServer) JobURL(jobPath string) string {
	return "https://ci.example.com/job/" + jobPath
}

func (f *fakeServer) Triggers() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.triggers...)
}

type fakeAccounts struct {
	loggedIn map[int64]bool
}

func (f *fakeAccounts) IsLoggedIn(_ context.Context, userID int64) (bool, error) {
	return f.loggedIn[userID], nil
}

type fakeClients struct {
	server ci.Server
	err    error
}

func (f *fakeClients) ClientFor(context.Context, int64) (ci.Server, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.server, nil
}

// fakeGroups keeps one row per group, like the upserting store.
type fakeGroups struct {
	mu    sync.Mutex
	rows  map[int64]*model.GroupConfig
	links int
}

func (f *fakeGroups) Get(_ context.Context, groupID int64) (*model.GroupConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.rows[groupID]; ok {
		copied := *cfg
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeGroups) Link(_ context.Context, groupID int64, jobPath string, configuredBy int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links++
	f.rows[groupID] = &model.GroupConfig{GroupID: groupID, JobPath: jobPath, ConfiguredBy: configuredBy}
	return nil
}

type fakeLedger struct {
	mu   sync.Mutex
	rows []*model.BuildRequest
	err  error
}

func (f *fakeLedger) Put(_ context.Context, req *model.BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, req)
	return nil
}

func (f *fakeLedger) Rows() []*model.BuildRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.BuildRequest(nil), f.rows...)
}
