package vocab

// UnkText is the surface form of the designated unknown slot.
const UnkText = "<unk>"

// Vocab is a closed primitive-token vocabulary with one designated unknown
// slot. Slot indices are stable and index the scorer's generation
// distribution.
type Vocab struct {
	words []string
	index map[string]int
	unk   int
}

// New builds a vocabulary from a word list, ignoring duplicates. When the
// list does not contain UnkText, it is prepended at slot 0.
func New(words []string) *Vocab {
	v := &Vocab{
		index: map[string]int{},
		unk:   -1,
	}
	if _, ok := find(words, UnkText); !ok {
		v.words = append(v.words, UnkText)
		v.index[UnkText] = 0
	}
	for _, w := range words {
		if _, ok := v.index[w]; ok {
			continue
		}
		v.index[w] = len(v.words)
		v.words = append(v.words, w)
	}
	v.unk = v.index[UnkText]
	return v
}

func find(words []string, w string) (int, bool) {
	for i, word := range words {
		if word == w {
			return i, true
		}
	}
	return 0, false
}

func (v *Vocab) Size() int {
	return len(v.words)
}

func (v *Vocab) Contains(word string) bool {
	_, ok := v.index[word]
	return ok
}

// Index returns the slot of word, falling back to the unknown slot.
func (v *Vocab) Index(word string) int {
	if i, ok := v.index[word]; ok {
		return i
	}
	return v.unk
}

func (v *Vocab) Word(slot int) string {
	return v.words[slot]
}

func (v *Vocab) Unk() int {
	return v.unk
}
