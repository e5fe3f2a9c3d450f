package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrashBase_Validate(t *testing.T) {
	cases := []struct {
		name    string
		crash   CrashBase
		wantErr bool
	}{
		{"input_id set", CrashBase{InputID: "in-1"}, false},
		{"input set", CrashBase{Input: "AA=="}, false},
		{"neither set", CrashBase{}, true},
		{"whitespace input_id treated as unset", CrashBase{InputID: "   "}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.crash.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrMessageInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewCrashMessage_Validate(t *testing.T) {
	valid := NewCrashMessage{
		FuzzerEngine: EngineLibfuzzer,
		FuzzerLang:   LangCPP,
		Crash:        CrashBase{InputID: "in-1"},
		Created:      "2024-01-01T00:00:00Z",
	}
	assert.NoError(t, valid.Validate())

	t.Run("rejects non-Z timestamp", func(t *testing.T) {
		m := valid
		m.Created = "2024-01-01T00:00:00+00:00"
		err := m.Validate()
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrMessageInvalid))
	})

	t.Run("rejects unknown engine", func(t *testing.T) {
		m := valid
		m.FuzzerEngine = EngineID("nonsense")
		err := m.Validate()
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrEngineUnsupported))
	})

	t.Run("rejects unknown lang", func(t *testing.T) {
		m := valid
		m.FuzzerLang = LangID("klingon")
		err := m.Validate()
		assert.Error(t, err)
	})

	t.Run("rejects invalid crash sub-object", func(t *testing.T) {
		m := valid
		m.Crash = CrashBase{}
		err := m.Validate()
		assert.Error(t, err)
	})
}

func TestEngineID_Validate(t *testing.T) {
	assert.NoError(t, EngineAFL.Validate())
	assert.NoError(t, EngineAtheris.Validate())
	assert.Error(t, EngineID("unknown").Validate())
}
