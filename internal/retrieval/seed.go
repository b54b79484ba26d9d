package retrieval

// SeedCorpus returns the built-in WHO/NICE guideline excerpts for
// hypertensive disorders of pregnancy. This is the corpus the memory index
// serves, and the default content the ingest loader writes to postgres.
func SeedCorpus() []Chunk {
	return []Chunk{
		{
			Source: "WHO 2011 — Severe Preeclampsia",
			Text: "Magnesium sulphate is the drug of choice for the prevention and " +
				"treatment of eclampsia. The loading dose is 4g IV over 20 minutes, " +
				"followed by 1g/hr IV maintenance for 24 hours after the last seizure. " +
				"Monitor respiratory rate, patellar reflexes, and urine output during infusion.",
		},
		{
			Source: "WHO 2011 — Antihypertensives",
			Text: "Antihypertensive drugs should be given when blood pressure is at or " +
				"above 160/110 mmHg. Labetalol IV, oral nifedipine, or IV hydralazine are " +
				"all appropriate first-line choices. ACE inhibitors and angiotensin " +
				"receptor blockers are contraindicated in pregnancy.",
		},
		{
			Source: "NICE NG133 2019 — Severe Hypertension",
			Text: "Women with severe hypertension in pregnancy should receive IV " +
				"labetalol as first-line treatment if there are no contraindications. " +
				"Admit to hospital, measure blood pressure every 15 to 30 minutes until " +
				"below 160/110 mmHg, and offer continuous cardiotocography.",
		},
		{
			Source: "WHO 2011 — Mild Hypertension",
			Text: "Blood pressure should be checked at every antenatal visit. Women " +
				"with blood pressure 140-159/90-109 mmHg without proteinuria should " +
				"receive expectant management with close surveillance and " +
				"antihypertensive treatment if pressure rises above 150/100 mmHg.",
		},
		{
			Source: "NICE NG133 2019 — Proteinuria Assessment",
			Text: "Use an automated reagent-strip reading device for dipstick " +
				"screening of proteinuria in pregnant women. If dipstick screening is " +
				"1+ or more, quantify with an albumin:creatinine or " +
				"protein:creatinine ratio and assess for preeclampsia.",
		},
		{
			Source: "RCOG Green-top 10A — Eclampsia Management",
			Text: "In the event of convulsions, secure the airway, place the woman in " +
				"the left lateral position, and give magnesium sulphate. Recurrent " +
				"seizures should be treated with a further bolus of 2g MgSO4. Arrange " +
				"urgent delivery planning once the mother is stabilised.",
		},
		{
			Source: "WHO 2011 — Referral and Transfer",
			Text: "Women with severe preeclampsia or eclampsia at lower-level " +
				"facilities must be stabilised before and during referral to a " +
				"facility with caesarean and intensive-care capability. Maintain IV " +
				"access, continue magnesium sulphate in transit, and monitor blood " +
				"pressure throughout transport.",
		},
		{
			Source: "NICE NG133 2019 — Fetal Monitoring",
			Text: "Carry out cardiotocography at diagnosis of severe gestational " +
				"hypertension or preeclampsia. If conservative management is planned, " +
				"repeat ultrasound fetal growth and amniotic fluid assessment every " +
				"two weeks and umbilical artery doppler twice weekly.",
		},
		{
			Source: "WHO 2012 — Postpartum Haemorrhage",
			Text: "Active vaginal bleeding in pregnancy or the postpartum period " +
				"requires immediate assessment of blood loss, uterine tone, and vital " +
				"signs. Establish two large-bore IV lines, give uterotonics where " +
				"indicated, and escalate to emergency obstetric care without delay.",
		},
		{
			Source: "RCOG Green-top 31 — Reduced Fetal Movements",
			Text: "Women reporting reduced fetal movements after 28 weeks should have " +
				"cardiotocography within two hours to exclude fetal compromise. " +
				"Persistent reduction despite normal CTG warrants ultrasound " +
				"assessment of growth and liquor volume within 24 hours.",
		},
	}
}
