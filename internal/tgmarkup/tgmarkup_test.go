// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package tgmarkup

import (
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestBuilder(t *testing.T) {
	t.Parallel()

	var b Builder
	b.Bold("🔮 Hi").Text("\n\n").Bold("Лев").Text("\n").Text("**not bold**")
	testutil.AssertEqual(t, b.Message(), Message{
		Text: "🔮 Hi\n\nЛев\n**not bold**",
		Entities: []Entity{
			// The crystal ball is a surrogate pair, two UTF-16 code units.
			{Type: Bold, Offset: 0, Length: 5},
			{Type: Bold, Offset: 7, Length: 3},
		},
	})
}

func TestBuilderEmptyEntity(t *testing.T) {
	t.Parallel()

	var b Builder
	b.Text("a").Bold("").Bold("b")
	testutil.AssertEqual(t, b.Message(), Message{
		Text:     "ab",
		Entities: []Entity{{Type: Bold, Offset: 1, Length: 1}},
	})
}

func TestBuilderAppend(t *testing.T) {
	t.Parallel()

	var b Builder
	b.Bold("🔮").Text(" ").Append(FromMarkdown("**Лев** и _Дева_"))
	testutil.AssertEqual(t, b.Message(), Message{
		Text: "🔮 Лев и Дева",
		Entities: []Entity{
			{Type: Bold, Offset: 0, Length: 2},
			{Type: Bold, Offset: 3, Length: 3},
			{Type: Italic, Offset: 9, Length: 4},
		},
	})
}

func TestFromMarkdown(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want Message
	}{
		"plain": {
			in:   "hello",
			want: Message{Text: "hello"},
		},
		"bold": {
			in: "✅ Подписка оформлена: **Лев**",
			want: Message{
				Text:     "✅ Подписка оформлена: Лев",
				Entities: []Entity{{Type: Bold, Offset: 22, Length: 3}},
			},
		},
		"lines": {
			in:   "Выбери знак:\n\n/aries — Овен\n/taurus — Телец",
			want: Message{Text: "Выбери знак:\n/aries — Овен\n/taurus — Телец"},
		},
		"escaped name": {
			in: "Твой знак: **" + Escape("*Лев_2* [beta]") + "**",
			want: Message{
				Text:     "Твой знак: *Лев_2* [beta]",
				Entities: []Entity{{Type: Bold, Offset: 11, Length: 14}},
			},
		},
		"soft break": {
			in: "Твой знак: **Лев**\nКаждый день в 08:00.",
			want: Message{
				Text:     "Твой знак: Лев\nКаждый день в 08:00.",
				Entities: []Entity{{Type: Bold, Offset: 11, Length: 3}},
			},
		},
		"code": {
			in: "send `/leo`",
			want: Message{
				Text:     "send /leo",
				Entities: []Entity{{Type: Code, Offset: 5, Length: 4}},
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, FromMarkdown(tc.in), tc.want)
		})
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, Escape("Лев"), "Лев")
	testutil.AssertEqual(t, Escape("a*b_c"), `a\*b\_c`)
	testutil.AssertEqual(t, Escape(`[x](y) \`), `\[x\]\(y\) \\`)
}
