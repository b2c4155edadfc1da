// Package prompt renders the grounded prompt sent to the generative backend.
// Rendering is a pure function of its inputs: identical history, catalog, and
// situational context always produce a byte-identical prompt.
package prompt

import (
	"sort"
	"strconv"
	"strings"

	"github.com/afaqstores/afaqbot/internal/catalog"
	"github.com/afaqstores/afaqbot/internal/session"
	"github.com/afaqstores/afaqbot/internal/situational"
)

// NoProductsMarker is rendered when the catalog is empty, so the backend is
// never asked to recommend from a void list.
const NoProductsMarker = "مفيش منتجات متاحة في المتجر دلوقتي، متطرحش أي منتجات من عندك."

// historyLineLimit caps each labelled history line, in runes.
const historyLineLimit = 120

// Assembler renders prompts with fixed windows and a fixed link base.
type Assembler struct {
	// DisplayWindow is the number of trailing turns in the labelled
	// history block.
	DisplayWindow int
	// TranscriptWindow is the (larger) number of trailing turns in the raw
	// transcript block.
	TranscriptWindow int
	// LinkBase is the product-details URL prefix; the product ID is
	// appended verbatim.
	LinkBase string
}

// Input carries everything a single rendering depends on. No other state may
// influence the output.
type Input struct {
	History     []session.Turn
	Catalog     []catalog.Record
	Situational situational.Context
	InboundText string
	HasImage    bool
}

// Render produces the full prompt. Catalog display names are emitted
// byte-exact: never truncated, re-cased, or re-encoded, because store links
// are bound to the literal strings.
func (a Assembler) Render(in Input) string {
	var b strings.Builder

	b.WriteString("أنت البوت الذكي بتاع آفاق ستورز، بتتكلم عامية مصرية ودودة، بتحب الموضة والعناية الشخصية وبتعرف تحلل الصور كويس.\n\n")

	a.writeSituational(&b, in.Situational)

	b.WriteString("آخر كلام:\n")
	b.WriteString(a.labelledHistory(in.History))
	b.WriteString("\n\n")

	b.WriteString("دول كل المنتجات اللي موجودة عندنا دلوقتي (خد بالك من الأسماء دي بالحرف لأن اللينكات مربوطة بيها):\n")
	b.WriteString("المنتجات المتاحة (ممنوع تغيير ولا حرف في الاسم أبدًا):\n")
	b.WriteString(a.catalogLines(in.Catalog))
	b.WriteString("\n")

	b.WriteString("آخر رسايل المحادثة:\n")
	b.WriteString(a.rawTranscript(in.History))
	b.WriteString("\n\n")

	b.WriteString("العميل بيقول دلوقتي: ")
	b.WriteString(in.InboundText)
	b.WriteString("\n\n")

	b.WriteString("لو طلب لبس أو عناية أو بعت صورة لبس أو منتج:\n")
	b.WriteString("- رشحله من المنتجات اللي فوق بالشكل ده بالظبط: سطر للاسم، سطر للسعر، سطر للكاتيجوري، سطر للينك.\n\n")
	b.WriteString("مهم جدًا: استخدم أسماء المنتجات زي ما هي مكتوبة فوق من غير ما تقصرها أو تغير فيها ولا حرف.\n\n")
	b.WriteString("لو بعت صورة عادية أو سأل حاجة مش عن لبس → رد عليه عادي وحلل الصورة من غير ما ترشح منتجات.\n")
	if in.HasImage {
		b.WriteString("\nلو في صورة → ابدأ الرد بـ \"ثانية بس أشوف الصورة...\"\n")
	}
	b.WriteString("\nرد دلوقتي بالعامية المصرية 100% ومتحطش إيموجي خالص ومتقولش إنك بوت أبدًا.")

	return b.String()
}

// writeSituational renders the weather line from the well-known keys, then
// any extra keys in sorted order so output stays deterministic.
func (a Assembler) writeSituational(b *strings.Builder, ctx situational.Context) {
	location := ctx[situational.KeyLocation]
	temperature := ctx[situational.KeyTemperature]
	if location != "" && temperature != "" {
		b.WriteString("الجو في ")
		b.WriteString(location)
		b.WriteString(" النهاردة حوالي ")
		b.WriteString(temperature)
		b.WriteString("°C\n")
	}
	extras := make([]string, 0, len(ctx))
	for key := range ctx {
		if key == situational.KeyLocation || key == situational.KeyTemperature {
			continue
		}
		extras = append(extras, key)
	}
	sort.Strings(extras)
	for _, key := range extras {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(ctx[key])
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (a Assembler) labelledHistory(history []session.Turn) string {
	turns := tail(history, a.DisplayWindow)
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "البوت"
		if t.Role == session.RoleUser {
			label = "العميل"
		}
		lines = append(lines, label+": "+truncateRunes(t.Text, historyLineLimit))
	}
	return strings.Join(lines, "\n")
}

func (a Assembler) rawTranscript(history []session.Turn) string {
	turns := tail(history, a.TranscriptWindow)
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		lines = append(lines, t.Text)
	}
	return strings.Join(lines, "\n")
}

func (a Assembler) catalogLines(records []catalog.Record) string {
	if len(records) == 0 {
		return NoProductsMarker + "\n"
	}
	var b strings.Builder
	for _, rec := range records {
		b.WriteString("• ")
		b.WriteString(rec.DisplayName)
		b.WriteString(" | السعر: ")
		b.WriteString(formatPrice(rec.Price))
		b.WriteString(" جنيه | الكاتيجوري: ")
		b.WriteString(rec.Category)
		b.WriteString(" | اللينك: ")
		b.WriteString(a.LinkBase)
		b.WriteString("/")
		b.WriteString(rec.ID)
		b.WriteString("\n")
	}
	return b.String()
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func tail(turns []session.Turn, n int) []session.Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// truncateRunes shortens s to at most limit runes without splitting a
// multi-byte character.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
