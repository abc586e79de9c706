package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/rules"
)

type recordingStore struct {
	saved []*compliance.AnalysisRun
	err   error
}

func (s *recordingStore) Save(ctx context.Context, run *compliance.AnalysisRun) error {
	s.saved = append(s.saved, run)
	return s.err
}

type recordingNotifier struct {
	startErr   error
	checkID    int64
	published  []int64
	runs       []*compliance.AnalysisRun
	replies    []string
	publishErr error
}

func (n *recordingNotifier) StartCheck(ctx context.Context, t compliance.Target) (int64, error) {
	return n.checkID, n.startErr
}

func (n *recordingNotifier) Publish(ctx context.Context, run *compliance.AnalysisRun, checkID int64) error {
	n.published = append(n.published, checkID)
	n.runs = append(n.runs, run)
	return n.publishErr
}

func (n *recordingNotifier) Reply(ctx context.Context, t compliance.Target, body string) error {
	n.replies = append(n.replies, body)
	return nil
}

func TestServiceAnalyze(t *testing.T) {
	store := &recordingStore{}
	notifier := &recordingNotifier{checkID: 77}
	svc := NewService(New(rules.NewCatalog(), Options{}), apiKeyFiles(), store, notifier, nil)

	run, err := svc.Analyze(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Same(t, run, store.saved[0])
	assert.Equal(t, []int64{77}, notifier.published)
	assert.Equal(t, compliance.RunCompleted, notifier.runs[0].Status)
}

func TestServiceAnalyze_FailedRunIsStillPublished(t *testing.T) {
	store := &recordingStore{}
	notifier := &recordingNotifier{checkID: 5}
	svc := NewService(New(rules.NewCatalog(), Options{}), failingSource{err: errors.New("bad credentials")}, store, notifier, nil)

	run, err := svc.Analyze(context.Background(), target)
	var fatal *compliance.FatalError
	require.ErrorAs(t, err, &fatal)
	require.NotNil(t, run)
	assert.Equal(t, compliance.RunFailed, run.Status)
	assert.Empty(t, run.Findings)
	assert.Zero(t, run.Stats.Sum())
	require.Len(t, store.saved, 1)
	require.Len(t, notifier.runs, 1)
	assert.Equal(t, compliance.RunFailed, notifier.runs[0].Status)
}

func TestServiceAnalyze_SideEffectFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &recordingStore{err: errors.New("connection refused")}
	notifier := &recordingNotifier{startErr: errors.New("403"), publishErr: errors.New("422")}
	svc := NewService(New(rules.NewCatalog(), Options{}), apiKeyFiles(), store, notifier, zap.New(core))

	run, err := svc.Analyze(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, compliance.RunCompleted, run.Status)
	assert.Equal(t, []int64{0}, notifier.published)
	assert.Equal(t, 1, logs.FilterMessage("opening check failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("persisting run failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("publishing run failed").Len())
}

func TestServiceReply(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(New(rules.NewCatalog(), Options{}), StaticSource{}, nil, notifier, nil)
	require.NoError(t, svc.Reply(context.Background(), target, "hi"))
	assert.Equal(t, []string{"hi"}, notifier.replies)

	bare := NewService(New(rules.NewCatalog(), Options{}), StaticSource{}, nil, nil, nil)
	assert.NoError(t, bare.Reply(context.Background(), target, "hi"))
	run, err := bare.Analyze(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, compliance.RunCompleted, run.Status)
}
