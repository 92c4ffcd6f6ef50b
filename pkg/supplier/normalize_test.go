package supplier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMPN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"lm358n", "LM358N"},
		{"LM358-N ", "LM358N"},
		{"lm 358 n", "LM358N"},
		{"ＬＭ３５８Ｎ", "LM358N"}, // full-width export from a distributor sheet
		{"ATmega328P-PU+", "ATMEGA328PPU+"},
		{"BAV99/SOT23", "BAV99/SOT23"},
		{"", ""},
		{"  .,;  ", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NormalizeMPN(c.in), "input %q", c.in)
	}
}

func TestNormalizeManufacturer(t *testing.T) {
	require.Equal(t, "TEXAS INSTRUMENTS", NormalizeManufacturer("  texas   instruments "))
	require.Equal(t, "STMICROELECTRONICS", NormalizeManufacturer("STMicroelectronics"))
	require.Equal(t, "", NormalizeManufacturer("   "))
	require.Equal(t,
		NormalizeManufacturer("Ｔｅｘａｓ Instruments"),
		NormalizeManufacturer("Texas Instruments"))
}
