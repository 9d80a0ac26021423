package lexicon

// DefaultTables returns the compiled-in tables. The returned value is a
// fresh copy and may be modified by the caller before passing it to [New].
func DefaultTables() Tables {
	return Tables{
		Version: DefaultVersion,
		SpeechVerbs: []string{
			"said", "replied", "asked", "whispered", "shouted", "called",
			"murmured", "yelled", "answered", "sighed", "breathed", "hissed",
			"growled", "declared", "demanded", "insisted", "suggested",
			"continued", "added", "agreed", "warned", "pleaded", "begged",
			"barked", "ordered", "screamed", "announced", "laughed", "smiled",
			"grinned", "chuckled", "groaned", "stammered", "stuttered",
			"sobbed", "wailed", "roared", "sneered", "scoffed", "retorted",
			"interrupted", "protested", "conceded", "acknowledged", "remarked",
			"observed", "noted", "commented", "explained", "offered", "urged",
			"prompted", "wondered", "mused", "pondered", "repeated", "finished",
			"began", "started", "managed", "attempted", "tried", "stated",
			"spoke",
		},
		ActionVerbs: []string{
			"nodded", "shrugged", "frowned", "paused", "turned", "looked",
			"glanced", "stared", "stood", "sat", "leaned", "stepped", "walked",
			"ran", "smirked", "winced", "blinked", "gasped", "hesitated",
			"waited", "watched", "raised", "reached", "shook", "folded",
			"crossed", "rolled", "took", "gave", "held", "pulled", "pushed",
			"closed", "opened", "tilted", "rubbed", "clenched", "straightened",
		},
		BodyNouns: []string{
			"eyes", "eye", "face", "hand", "hands", "voice", "hair", "head",
			"lips", "mouth", "smile", "gaze", "shoulder", "shoulders", "arm",
			"arms", "fingers", "jaw", "brow", "cheeks", "heart", "expression",
			"tone", "breath", "back", "feet", "legs", "chest", "skin", "neck",
		},
		Stopwords: []string{
			// Pronouns and determiners.
			"I", "He", "She", "It", "We", "They", "You", "His", "Her", "Hers",
			"Its", "Our", "Their", "Your", "My", "Me", "Him", "Them", "Us",
			"This", "That", "These", "Those", "The", "A", "An", "Some", "Any",
			"Each", "Every", "No", "None", "Someone", "Everyone", "Nobody",
			"Somebody", "Everybody", "Anyone",
			// Conjunctions, adverbs and sentence openers.
			"And", "But", "Or", "So", "Yet", "For", "Nor", "If", "When",
			"While", "As", "Then", "Now", "Here", "There", "Where", "Why",
			"How", "What", "Who", "Which", "Yes", "Well", "Oh", "Ah", "Still",
			"Just", "Even", "Only", "Also", "After", "Before", "Later",
			"Soon", "Once", "Again", "Finally", "Suddenly", "Perhaps",
			"Maybe", "Meanwhile", "Instead", "Though", "Although",
			// Temporal words.
			"Today", "Tomorrow", "Yesterday", "Tonight", "Morning",
			"Evening", "Night", "Monday", "Tuesday", "Wednesday", "Thursday",
			"Friday", "Saturday", "Sunday", "January", "February", "March",
			"April", "May", "June", "July", "August", "September", "October",
			"November", "December",
			// Book structure.
			"Chapter", "Part", "Book", "Prologue", "Epilogue", "Section",
			"Volume", "Contents", "Introduction", "End",
			// Forms of address that never stand alone as names.
			"Mr", "Mrs", "Ms", "Miss", "Sir", "Madam", "Lord", "Lady", "Dr",
			"Captain", "God",
			// The narrator pseudo-character is injected separately.
			"Narrator",
		},
	}
}
