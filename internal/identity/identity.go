// Package identity 负责从 (房间, 会话) 派生稳定的匿名化名。
package identity

import (
	"github.com/cespare/xxhash/v2"
)

var adjectives = [...]string{
	"Happy", "Calm", "Bright", "Swift", "Gentle", "Bold", "Quiet", "Clever",
	"Kind", "Brave", "Witty", "Lucky", "Mellow", "Nimble", "Sunny", "Eager",
	"Fuzzy", "Jolly", "Proud", "Shy", "Silly", "Wise", "Zesty", "Breezy",
	"Cosmic", "Dreamy", "Fierce", "Humble", "Lively", "Noble", "Rapid", "Vivid",
}

var animals = [...]string{
	"Cat", "Dog", "Bird", "Fish", "Bear", "Wolf", "Fox", "Deer",
	"Owl", "Bee", "Otter", "Panda", "Tiger", "Koala", "Lynx", "Moose",
	"Hawk", "Crab", "Seal", "Frog", "Goat", "Hare", "Lemur", "Mole",
	"Newt", "Puma", "Raven", "Sloth", "Swan", "Toad", "Yak", "Zebra",
}

// Derive 返回 (roomID, sessionID) 对应的化名，例如 "Happy Cat"。
//
// 同样的输入永远得到同样的结果，不依赖任何可变状态。xxhash 的输出与平台、进程无关，
// 64 位摘要的高 32 位选形容词，低 32 位选动物。
func Derive(roomID, sessionID string) string {
	sum := xxhash.Sum64String(roomID + "-" + sessionID)
	adj := adjectives[(sum>>32)%uint64(len(adjectives))]
	animal := animals[(sum&0xffffffff)%uint64(len(animals))]
	return adj + " " + animal
}
