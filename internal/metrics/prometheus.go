// Package metrics holds the Prometheus instruments for the credential
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal          prometheus.Counter
	LoginFailureTotal          prometheus.Counter
	SecondFactorRequiredTotal  prometheus.Counter
	SessionsIssuedTotal        prometheus.Counter
	TokensRotatedTotal         prometheus.Counter
	LineagesRevokedTotal       prometheus.Counter
	PasskeyCeremoniesTotal     *prometheus.CounterVec
	CounterRegressionTotal     prometheus.Counter
	RecoveryCodesConsumedTotal prometheus.Counter
)

// Init registers the service metrics with the given registerer. It must
// be called once at startup before any service is constructed.
func Init(reg prometheus.Registerer) {
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_success_total",
		Help: "Total number of fully completed logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_failure_total",
		Help: "Total number of rejected login attempts.",
	})
	SecondFactorRequiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_second_factor_required_total",
		Help: "Total number of logins gated behind a second factor.",
	})
	SessionsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_issued_total",
		Help: "Total number of access/refresh token pairs minted.",
	})
	TokensRotatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_rotated_total",
		Help: "Total number of access tokens rotated from refresh tokens.",
	})
	LineagesRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lineages_revoked_total",
		Help: "Total number of token lineages revoked.",
	})
	PasskeyCeremoniesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_passkey_ceremonies_total",
		Help: "Total number of passkey ceremonies by kind and outcome.",
	}, []string{"kind", "outcome"})
	CounterRegressionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_passkey_counter_regression_total",
		Help: "Total number of assertions rejected for counter regression.",
	})
	RecoveryCodesConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_recovery_codes_consumed_total",
		Help: "Total number of recovery codes consumed.",
	})

	if reg == nil {
		return
	}
	collectors := []prometheus.Collector{
		LoginSuccessTotal, LoginFailureTotal, SecondFactorRequiredTotal,
		SessionsIssuedTotal, TokensRotatedTotal, LineagesRevokedTotal,
		PasskeyCeremoniesTotal, CounterRegressionTotal, RecoveryCodesConsumedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

// init wires unregistered instruments so unit tests and library use do
// not panic when Init was never called.
func init() {
	Init(nil)
}
