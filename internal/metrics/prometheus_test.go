package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRegistersCountersWithRegistry(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	Init(reg)

	LoginSuccessTotal.Inc()
	PasskeyCeremoniesTotal.WithLabelValues("authentication", "success").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			byName[mf.GetName()] += m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), byName["auth_logins_success_total"])
	assert.Equal(t, float64(1), byName["auth_passkey_ceremonies_total"])

	// Every instrument the services increment must be scrapeable, not
	// just constructed.
	for _, name := range []string{
		"auth_logins_success_total",
		"auth_logins_failure_total",
		"auth_second_factor_required_total",
		"auth_sessions_issued_total",
		"auth_tokens_rotated_total",
		"auth_lineages_revoked_total",
		"auth_passkey_counter_regression_total",
		"auth_recovery_codes_consumed_total",
	} {
		_, ok := byName[name]
		assert.True(t, ok, "metric family %s not gatherable", name)
	}

	// Leave the package-level instruments unregistered for other tests.
	Init(nil)
}
