package service

// passphraseWords 生成充值口令的候选词表。
//
// 词都是短小、易拼写、互不相似的常见英文名词，避免用户誊抄出错。
var passphraseWords = []string{
	"acorn", "amber", "anchor", "apple", "arrow", "aspen", "badge", "basil",
	"beach", "berry", "birch", "blaze", "bloom", "brass", "breeze", "brick",
	"brook", "candle", "canyon", "cedar", "chalk", "cherry", "clay", "cliff",
	"cloud", "clover", "cobalt", "coral", "cotton", "creek", "crystal", "daisy",
	"dawn", "delta", "drift", "dune", "eagle", "ember", "fern", "field",
	"flame", "flint", "forest", "fox", "frost", "garden", "garnet", "ginger",
	"glacier", "grove", "harbor", "hazel", "heron", "hill", "honey", "ivory",
	"jade", "jasper", "juniper", "kelp", "lagoon", "lake", "lantern", "laurel",
	"lemon", "lily", "linen", "lotus", "maple", "marble", "meadow", "mint",
	"mist", "moss", "north", "oak", "ocean", "olive", "onyx", "opal",
	"orchid", "otter", "pearl", "pebble", "pine", "plum", "pond", "poppy",
	"prairie", "quartz", "rain", "raven", "reef", "ridge", "river", "robin",
	"rose", "rowan", "ruby", "sage", "sand", "shell", "silver", "sky",
	"slate", "snow", "spark", "spruce", "star", "stone", "storm", "summit",
	"sun", "swan", "thorn", "tide", "timber", "topaz", "trail", "tulip",
	"valley", "velvet", "vine", "violet", "wave", "willow", "wren", "zephyr",
}
