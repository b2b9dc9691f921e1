package safety

import (
	"github.com/kubenl/kubenl/pkg/kube"
)

// Modality is the strength of acknowledgment required before execution.
type Modality int

const (
	// ModalityNone executes without any dialog.
	ModalityNone Modality = iota
	// ModalityYesNo requires a single approve/deny choice.
	ModalityYesNo
	// ModalityTypedPhrase requires the operator to retype an expected
	// phrase, case-sensitively.
	ModalityTypedPhrase
)

// String returns the display name of the modality.
func (m Modality) String() string {
	switch m {
	case ModalityYesNo:
		return "yes-no"
	case ModalityTypedPhrase:
		return "typed-phrase"
	default:
		return "none"
	}
}

// ConfirmationSpec describes the dialog a command must clear.
type ConfirmationSpec struct {
	Modality Modality
	// ExpectedPhrase is set when Modality is ModalityTypedPhrase. It is the
	// command's resource-name argument, falling back to the word naming the
	// environment class.
	ExpectedPhrase string
}

// SpecFor derives the confirmation requirement from risk and environment.
// Unknown environments are weighted as staging, so they never reach the
// typed-phrase tier but never skip the yes-no tier either.
func SpecFor(risk RiskLevel, class kube.EnvironmentClass, command string) ConfirmationSpec {
	switch {
	case risk == RiskHigh && class.IsProduction():
		return ConfirmationSpec{
			Modality:       ModalityTypedPhrase,
			ExpectedPhrase: expectedPhrase(command, class),
		}
	case risk == RiskHigh, risk == RiskMedium:
		return ConfirmationSpec{Modality: ModalityYesNo}
	default:
		return ConfirmationSpec{Modality: ModalityNone}
	}
}

// Matches checks a typed phrase against the expectation, case-sensitively.
func (s ConfirmationSpec) Matches(typed string) bool {
	return s.Modality == ModalityTypedPhrase && typed == s.ExpectedPhrase
}

func expectedPhrase(command string, class kube.EnvironmentClass) string {
	if inv := Parse(command).First(); inv != nil && inv.ResourceName != "" {
		return inv.ResourceName
	}
	return class.String()
}
