package commands

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/apkhunter/internal/hunter"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

func TestReport_Success(t *testing.T) {
	tgt := target.Target{ID: "myapp", URL: "https://apps.example.org/myapp", Mode: target.ModeScrape}
	res := &hunter.Result{
		RunID:        "run-1",
		Strategy:     "generic",
		ArtifactPath: "/tmp/myapp.apk",
		Size:         54 * 1000 * 1000,
		Iterations:   4,
		Duration:     1234567 * time.Microsecond,
		Clicks:       []hunter.Click{{Context: "main", Text: "Download APK", Score: 130, Reasons: []string{"canonical"}}},
	}

	r := report(tgt, res, nil)
	assert.True(t, r.Success)
	assert.Empty(t, r.Error)
	assert.Equal(t, "54 MB", r.SizeHuman)
	assert.Equal(t, "1.235s", r.Duration)
	require.Len(t, r.Clicks, 1)
	assert.Equal(t, "Download APK", r.Clicks[0].Text)
}

func TestReport_Failure(t *testing.T) {
	tgt := target.Target{ID: "myapp", URL: "https://apps.example.org/myapp"}
	err := errors.Join(fetcher.ErrNoCandidate)

	r := report(tgt, nil, err)
	assert.False(t, r.Success)
	assert.Equal(t, "no download found", r.Error)
	assert.Empty(t, r.SizeHuman)
}

func TestHuntConfig_MinSize(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("hunt.min_size", "2MB")
	viper.Set("hunt.grace", "5s")
	cfg, err := huntConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), cfg.MinBytes)
	assert.Equal(t, 5*time.Second, cfg.Grace)
	assert.Equal(t, hunter.DefaultConfig().PollInterval, cfg.PollInterval)

	viper.Set("hunt.min_size", "lots")
	_, err = huntConfig()
	assert.Error(t, err)
}
