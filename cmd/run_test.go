package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
)

func writeProfilesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeProfilesFile(t, `
profiles:
  - profile_id: main-floor
    target_url: https://tickets.example.com/event/900123
    event_id: "900123"
    requested_seats: 2
    area_filter: ["A1", "B2"]
    access_keyword: Grand Arena Presale
    poll_speed_tier: fast
    debugger_url: http://127.0.0.1:9222
    persona:
      user_agent: Mozilla/5.0
  - profile_id: balcony
    target_url: https://tickets.example.com/event/900123
    event_id: "900123"
    requested_seats: 1
    proxy:
      mode: OPEN
      host: 10.0.0.8
      port: 8080
`)

	profiles, err := loadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "main-floor", profiles[0].ProfileID)
	assert.Equal(t, []string{"A1", "B2"}, profiles[0].AreaFilter)
	assert.Equal(t, schemas.SpeedFast, profiles[0].PollSpeedTier)
	assert.Equal(t, "Mozilla/5.0", profiles[0].Persona.UserAgent)

	assert.Equal(t, 1, profiles[1].RequestedSeats)
	assert.True(t, profiles[1].Proxy.Enabled())
}

func TestLoadProfilesRejectsInvalidRecords(t *testing.T) {
	path := writeProfilesFile(t, `
profiles:
  - profile_id: broken
    target_url: https://tickets.example.com/event/900123
    requested_seats: 0
`)

	_, err := loadProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested seats")
}

func TestLoadProfilesMissingFile(t *testing.T) {
	_, err := loadProfiles(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
