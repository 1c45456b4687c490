package dashboard

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/identity"
)

var countPrinter = message.NewPrinter(language.English)

// placeholderValue is what a card shows when its source was unavailable.
const placeholderValue = "—"

// StatCard is one tile on the dashboard. Value arrives preformatted so the
// template never does number formatting.
type StatCard struct {
	Label string
	Value string
	Hint  string
	Href  string
}

// buildCards assembles the tiles the given user is allowed to see, in
// display order.
func buildCards(user *identity.Profile, ov Overview) []StatCard {
	cards := make([]StatCard, 0, 6)

	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin, identity.RoleFaculty}}) {
		cards = append(cards, StatCard{
			Label: "Students",
			Value: countValue(ov.StatsOK, ov.Stats.Students),
		})
	}
	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin}}) {
		cards = append(cards, StatCard{
			Label: "Faculty",
			Value: countValue(ov.StatsOK, ov.Stats.Faculty),
		})
	}
	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin, identity.RoleFaculty}}) {
		cards = append(cards, StatCard{
			Label: "Sections",
			Value: countValue(ov.StatsOK, ov.Stats.Sections),
			Href:  "/sections",
		})
	}
	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin}}) {
		card := StatCard{
			Label: "Sign-ins today",
			Value: countValue(ov.SigninsOK, int(ov.Signins.Today)),
		}
		if ov.SigninsOK {
			card.Hint = countPrinter.Sprintf("%d this week", ov.Signins.ThisWeek)
		}
		cards = append(cards, card)
	}
	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleFaculty, identity.RoleStudent}}) {
		cards = append(cards, StatCard{
			Label: "My sections",
			Value: countValue(ov.SectionsOK, len(ov.MySections)),
			Href:  "/sections",
		})
	}
	if authz.Authorize(user, authz.Requirement{ClassAdvisor: true}) {
		cards = append(cards, StatCard{
			Label: "Advisory",
			Value: countValue(true, len(user.Sections)),
			Hint:  "Class advisor",
			Href:  "/advisory",
		})
	}

	return cards
}

func countValue(ok bool, n int) string {
	if !ok {
		return placeholderValue
	}
	return countPrinter.Sprintf("%d", n)
}
