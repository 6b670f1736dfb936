package models

// RatingUnrated marks a book whose source rating was missing or outside the
// known vocabulary.
const RatingUnrated = 0

// ratingWords is the closed vocabulary the source site uses for star
// ratings. Anything else maps to RatingUnrated.
var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// RatingFromWord maps a source rating word to its numeric value.
func RatingFromWord(word string) (int, bool) {
	rating, ok := ratingWords[word]
	if !ok {
		return RatingUnrated, false
	}
	return rating, true
}
