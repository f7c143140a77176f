package enhance

import (
	"fmt"
	"strings"

	"github.com/deusflow/newspipe/internal/news"
)

const systemPrompt = "Tu es un journaliste rédacteur pour un site d'actualités malgache. Tu réponds uniquement avec un objet JSON valide."

// BuildPrompt asks for exactly one JSON object describing the rewritten article.
func BuildPrompt(req Request, sourceText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Réécris l'article ci-dessous en français, de façon neutre et factuelle.

ARTICLE:
Titre: %s
Catégorie: %s
Source: %s
Texte: %s

Réponds avec UN SEUL objet JSON, sans texte autour, avec exactement ces champs:
{
  "title": "titre réécrit, 120 caractères maximum",
  "summary": "résumé de 2 à 3 phrases",
  "content": "article complet réécrit, plusieurs paragraphes",
  "tags": ["mot-clé", "..."],
  "reliabilityScore": 0,
  "reliabilityLabel": "verified | likely | unverified | disputed",
  "factCheckNotes": "points à vérifier ou sources citées"
}

RÈGLES:
- reliabilityScore est un entier de 0 à 100.
- reliabilityLabel vaut exactement une des quatre valeurs indiquées.
- 8 tags au maximum.
- N'invente aucun fait absent du texte.`,
		req.Title, news.DisplayName(req.Category), req.SourceName, sourceText)
	return b.String()
}
