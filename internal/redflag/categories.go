package redflag

var headacheTerms = []string{
	"headache", "head ache", "migraine", "head is pounding",
	"baş ağrısı", "başım ağrıyor", "başım çok ağrıyor", "baş ağrım", "migren",
}

var nauseaTerms = []string{
	"nausea", "nauseous", "vomit", "throwing up", "threw up",
	"bulantı", "bulanıyor", "kusma", "kusuyorum", "kustum",
}

const combinedMessage = "Severe headache together with nausea or vomiting can signal raised intracranial pressure. Go to the nearest emergency department or call 112."

// DefaultCategories returns the built-in emergency table, most critical first.
func DefaultCategories() []Category {
	return []Category{
		{
			Label:      "cardiac_emergency",
			Message:    "Your symptoms may indicate a heart attack. Call 112 or go to the nearest emergency department now.",
			Confidence: 0.95,
			Patterns: []string{
				`(crushing|squeezing|pressing|tight|severe)\s+(chest\s+pain|pain\s+in\s+(my|the)\s+chest)`,
				`chest\s+pain.*(cold\s+sweat|left\s+arm|jaw)`,
				`heart\s+attack`,
				`gogus(te|um)?\s+(agri|baski|sikisma|sanci).*(soguk\s+ter|sol\s+kol|cene)`,
				`(ezici|sikistirici|baski\s+tarzi)\s+gogus\s+agrisi`,
				`kalp\s+krizi`,
			},
			Keywords: []string{
				"chest pain", "cold sweat", "left arm", "shortness of breath",
				"göğüs ağrısı", "soğuk ter", "sol kol", "nefes darlığı",
			},
		},
		{
			Label:      "stroke",
			Message:    "Sudden weakness, facial droop or speech trouble can mean a stroke. Call 112 immediately and note when symptoms started.",
			Confidence: 0.95,
			Patterns: []string{
				`(face|facial)\s+(droop|drooping)`,
				`slurred\s+speech`,
				`sudden\s+(weakness|numbness|paralysis)`,
				`\b(can'?t|can\s*not|unable\s+to)\s+(speak|move\s+(my\s+)?(arm|leg))`,
				`yuz(um|de)?\s+kay`,
				`(konusma(m)?\s+bozul|konusamiyorum)`,
				`ani\s+(gucsuzluk|uyusma|felc)`,
				`\binme\b`,
			},
			Keywords: []string{
				"numbness", "one side", "confusion", "vision loss", "dizziness",
				"uyuşma", "tek taraf", "bilinç bulanıklığı", "görme kaybı",
			},
		},
		{
			Label:      "respiratory_distress",
			Message:    "Severe breathing difficulty is an emergency. Call 112 now.",
			Confidence: 0.9,
			Patterns: []string{
				`\b(can'?t|can\s*not|unable\s+to)\s+breathe`,
				`choking`,
				`(blue|bluish)\s+(lips|face)`,
				`nefes\s+alamiyorum`,
				`bogul(uyorum|uyor)`,
				`dudak(larim)?\s+mor`,
			},
			Keywords: []string{
				"gasping", "wheezing", "breathless", "short of breath",
				"nefes darlığı", "hırıltı", "soluk soluğa",
			},
		},
		{
			Label:      "severe_bleeding",
			Message:    "Heavy or uncontrolled bleeding needs emergency care. Apply pressure and call 112.",
			Confidence: 0.9,
			Patterns: []string{
				`(severe|heavy|uncontrolled|massive)\s+bleeding`,
				`(vomiting|coughing\s+up)\s+blood`,
				`(siddetli|durmayan|cok\s+fazla)\s+kanama`,
				`kan\s+kus`,
			},
			Keywords: []string{
				"bleeding", "dizzy", "fainting", "pale",
				"kanama", "baş dönmesi", "bayılacak gibi", "solgun",
			},
		},
		{
			Label:      "anaphylaxis",
			Message:    "Throat or tongue swelling after exposure to an allergen may be anaphylaxis. Use an epinephrine injector if available and call 112.",
			Confidence: 0.9,
			Patterns: []string{
				`(throat|tongue|lips?)\s+(is\s+|are\s+)?(swelling|swollen|closing)`,
				`anaphyla`,
				`(bogaz(im)?|dil(im)?)\s+(sis|kapan)`,
				`anafilaksi`,
			},
			Keywords: []string{
				"hives", "bee sting", "throat swelling", "tongue swelling", "lip swelling", "hard to swallow",
				"kurdeşen", "arı soktu", "boğazım şişti", "dilim şişti", "yutkunamıyorum",
			},
		},
		{
			Label:      "loss_of_consciousness",
			Message:    "Loss of consciousness or a seizure requires emergency assessment. Call 112.",
			Confidence: 0.9,
			Patterns: []string{
				`(lost|loss\s+of)\s+consciousness`,
				`unconscious`,
				`(seizure|convulsion)`,
				`passed\s+out`,
				`bayil(di|dim|ma)`,
				`bilinc(i|im)?\s+kayb`,
				`(nobet|havale)\s+geci`,
			},
		},
		{
			Label:      "self_harm",
			Message:    "If you are thinking about harming yourself, please call 112 now or reach a crisis line. You are not alone.",
			Confidence: 0.95,
			Patterns: []string{
				`suicid`,
				`(kill|hurt)\s+myself`,
				`end\s+my\s+life`,
				`intihar`,
				`kendimi\s+(oldur|oldurmek|oldurecegim)`,
			},
		},
	}
}
