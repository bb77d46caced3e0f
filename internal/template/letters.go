package template

var builtinLetters = []Letter{
	{
		ID:       "invitation",
		Language: English,
		Name:     "Invitation (English)",
		Subjects: []string{
			"Invitation to collaborate",
			"Following up on our invitation",
		},
		Text: `Dear {{if .Name}}{{.Name}}{{else}}colleague{{end}},

We are reaching out to invite {{if .Institution}}{{.Institution}}{{else}}your organization{{end}} to take part in our upcoming programme.

We would be glad to tell you more and answer any questions you may have. Simply reply to this email and we will get back to you.

Kind regards,
The organizing team
`,
		HTML: `<p>Dear {{if .Name}}{{.Name}}{{else}}colleague{{end}},</p>
<p>We are reaching out to invite {{if .Institution}}{{.Institution}}{{else}}your organization{{end}} to take part in our upcoming programme.</p>
<p>We would be glad to tell you more and answer any questions you may have. Simply reply to this email and we will get back to you.</p>
<p>Kind regards,<br>The organizing team</p>
`,
	},
	{
		ID:       "invitation",
		Language: Norwegian,
		Name:     "Invitasjon (norsk)",
		Subjects: []string{
			"Invitasjon til samarbeid",
			"Oppfølging av vår invitasjon",
		},
		Text: `Kjære {{if .Name}}{{.Name}}{{else}}kollega{{end}},

Vi tar kontakt for å invitere {{if .Institution}}{{.Institution}}{{else}}deres organisasjon{{end}} til å delta i vårt kommende program.

Vi forteller gjerne mer og svarer på spørsmål. Svar på denne e-posten, så tar vi kontakt.

Med vennlig hilsen
Arrangørene
`,
		HTML: `<p>Kjære {{if .Name}}{{.Name}}{{else}}kollega{{end}},</p>
<p>Vi tar kontakt for å invitere {{if .Institution}}{{.Institution}}{{else}}deres organisasjon{{end}} til å delta i vårt kommende program.</p>
<p>Vi forteller gjerne mer og svarer på spørsmål. Svar på denne e-posten, så tar vi kontakt.</p>
<p>Med vennlig hilsen<br>Arrangørene</p>
`,
	},
}
