package guard

import (
	"fmt"
	"strings"

	"github.com/hermitdroid/hermitdroid/plan"
)

// DefaultIrreversibleVerbs trigger a forced RED classification when they
// appear in an action's free-text parameters. They cover the operations
// that cannot be undone once the device carries them out.
var DefaultIrreversibleVerbs = []string{
	"send", "delete", "purchase", "buy", "pay", "transfer", "call", "order",
}

// Policy is the device-owner rulebook. It can only raise a classification,
// never lower one.
type Policy struct {
	// RestrictedApps force RED for launching them or interacting while
	// one of them is in the foreground. Matched by package prefix.
	RestrictedApps []string

	// IrreversibleVerbs override DefaultIrreversibleVerbs when non-empty.
	IrreversibleVerbs []string
}

func (p Policy) verbs() []string {
	if len(p.IrreversibleVerbs) > 0 {
		return p.IrreversibleVerbs
	}
	return DefaultIrreversibleVerbs
}

func (p Policy) restrictedApp(pkg string) bool {
	pkg = strings.ToLower(strings.TrimSpace(pkg))
	if pkg == "" {
		return false
	}
	for _, r := range p.RestrictedApps {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if pkg == r || strings.HasPrefix(pkg, r+".") {
			return true
		}
	}
	return false
}

func interactsWithScreen(k plan.Kind) bool {
	switch k {
	case plan.KindTap, plan.KindLongPress, plan.KindSwipe,
		plan.KindTypeText, plan.KindPressKey:
		return true
	default:
		return false
	}
}

// EffectiveTier computes the tier an action actually runs under: the
// stricter of what the model proposed and what policy demands. The
// returned reasons explain every forced raise; an empty slice means the
// model's own classification stood.
func (p Policy) EffectiveTier(a plan.ActionRequest, foregroundApp string) (plan.Tier, []string) {
	tier := a.Classification
	var reasons []string
	raise := func(min plan.Tier, why string) {
		if plan.MaxTier(tier, min) != tier {
			tier = min
			reasons = append(reasons, why)
		}
	}

	if a.Kind == plan.KindLaunchApp {
		if pkg, _ := a.Params["package"].(string); p.restrictedApp(pkg) {
			raise(plan.TierRed, fmt.Sprintf("restricted app %q", pkg))
		}
	}
	if interactsWithScreen(a.Kind) && p.restrictedApp(foregroundApp) {
		raise(plan.TierRed, fmt.Sprintf("foreground app %q is restricted", foregroundApp))
	}

	// Typing and notification dismissal change device state that takes
	// effort to undo.
	switch a.Kind {
	case plan.KindTypeText:
		raise(plan.TierYellow, "text entry mutates app state")
	case plan.KindDismissNotification:
		raise(plan.TierYellow, "dismissal discards a notification")
	}

	if verb := p.matchIrreversibleVerb(a); verb != "" {
		raise(plan.TierRed, fmt.Sprintf("irreversible pattern %q", verb))
	}

	return tier, reasons
}

func (p Policy) matchIrreversibleVerb(a plan.ActionRequest) string {
	var haystack []string
	if t, ok := a.Params["text"].(string); ok {
		haystack = append(haystack, t)
	}
	if a.Reason != "" {
		haystack = append(haystack, a.Reason)
	}
	if len(haystack) == 0 {
		return ""
	}
	joined := strings.ToLower(strings.Join(haystack, " "))
	words := strings.FieldsFunc(joined, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}
	for _, v := range p.verbs() {
		if wordSet[strings.ToLower(v)] {
			return v
		}
	}
	return ""
}
