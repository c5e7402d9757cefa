//go:build linux

package carbon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGramsCO2e_DefaultFactor(t *testing.T) {
	// 4.832 J at 475 gCO2e/kWh.
	got := GramsCO2e(4.832, DefaultEmissionFactorGPerKWh)
	assert.InDelta(t, 6.38e-4, got, 1e-5)
}

func TestGramsCO2e_ZeroFactorYieldsZero(t *testing.T) {
	assert.Zero(t, GramsCO2e(100, 0))
}

func TestGramsCO2e_NegativeInputsYieldZero(t *testing.T) {
	assert.Zero(t, GramsCO2e(-5, DefaultEmissionFactorGPerKWh))
	assert.Zero(t, GramsCO2e(5, -1))
}

func TestGramsCO2e_LargeEnergy(t *testing.T) {
	// 3.6e6 J == 1 kWh
	got := GramsCO2e(joulesPerKWh, 500)
	assert.InDelta(t, 500.0, got, 1e-9)
}
