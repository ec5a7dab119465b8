package wordlist

// Word tables for code completion. Even-position words come from evenWords,
// odd-position words from oddWords, so a transcription error in one word is
// detectable by position.

var evenWords = [256]string{
	"acid", "alarm", "amber", "anchor", "apple", "arrow", "atlas", "autumn",
	"badge", "baker", "banjo", "barrel", "basket", "beacon", "beaver", "bedrock",
	"berry", "bishop", "bison", "blade", "blanket", "blossom", "bobcat", "bonfire",
	"border", "bottle", "boulder", "bramble", "brandy", "breeze", "brick", "bridge",
	"bronze", "brook", "bucket", "buffalo", "bugle", "bundle", "bunker", "burlap",
	"butter", "cabin", "cactus", "camel", "candle", "canoe", "canvas", "canyon",
	"carbon", "cargo", "carpet", "castle", "cedar", "cellar", "chalice", "chapel",
	"charcoal", "cherry", "chessboard", "chisel", "cider", "cinder", "clamp", "clover",
	"cobalt", "cobweb", "coconut", "comet", "compass", "copper", "coral", "cotton",
	"cougar", "crater", "crayon", "cricket", "crystal", "cyclone", "dagger", "daisy",
	"dolphin", "domino", "donkey", "dragon", "drum", "duster", "eagle", "easel",
	"echo", "ember", "emerald", "engine", "falcon", "fathom", "feather", "fiddle",
	"finch", "firefly", "flagon", "flannel", "flint", "forest", "fossil", "fountain",
	"fox", "freckle", "frost", "gadget", "galleon", "garland", "garnet", "gazelle",
	"geyser", "ginger", "glacier", "goblet", "gopher", "granite", "grape", "gravel",
	"griffin", "grotto", "hammock", "harbor", "harvest", "hawk", "hazel", "heron",
	"hickory", "hillside", "holly", "hornet", "horseshoe", "hour", "iceberg", "ingot",
	"iris", "ivory", "jacket", "jasper", "jigsaw", "jungle", "juniper", "kayak",
	"kettle", "knapsack", "lagoon", "lantern", "lapel", "latch", "ledger", "lemon",
	"lilac", "lizard", "lobster", "locket", "lumber", "lynx", "magnet", "mallet",
	"mango", "maple", "marble", "marsh", "meadow", "melon", "mesa", "mirror",
	"mitten", "moccasin", "molar", "monsoon", "morsel", "mosaic", "moss", "mule",
	"mussel", "mustang", "napkin", "nectar", "nickel", "nimbus", "nugget", "oasis",
	"ocotillo", "onyx", "orbit", "orchard", "osprey", "otter", "owl", "oyster",
	"paddle", "pagoda", "parrot", "pebble", "pelican", "penguin", "pepper", "petal",
	"pewter", "pigeon", "pillow", "pine", "pistol", "plank", "plaza", "plow",
	"plume", "pocket", "pollen", "pony", "poplar", "porthole", "possum", "prairie",
	"prism", "pulley", "pumpkin", "quarry", "quartz", "quiver", "rabbit", "raccoon",
	"raft", "rainbow", "rascal", "raven", "reef", "ribbon", "ridge", "rocket",
	"rudder", "saddle", "saffron", "salmon", "sandal", "sapphire", "satchel", "scarlet",
	"schooner", "scepter", "seahorse", "shadow", "shale", "shamrock", "sierra", "silver",
	"sleigh", "slipper", "smokestack", "snapdragon", "snowcap", "spaniel", "sparrow", "spearmint",
}

var oddWords = [256]string{
	"abacus", "albatross", "alchemy", "almanac", "ambition", "anagram", "apparatus", "aquarium",
	"arbitrate", "armadillo", "artistry", "asterisk", "atmosphere", "auditorium", "avalanche", "backbencher",
	"balladeer", "balcony", "barnacle", "barometer", "bayonet", "behemoth", "belvedere", "benefactor",
	"bicycle", "bilberry", "binnacle", "blacksmith", "blueberry", "bravado", "brigadier", "broccoli",
	"buccaneer", "bulldozer", "bumblebee", "bungalow", "butterfly", "buttercup", "cabbagehead", "calendar",
	"calibrate", "calliope", "camouflage", "candelabra", "cantaloupe", "caravan", "carburetor", "carnival",
	"carpenter", "cartographer", "cassowary", "catamaran", "cauliflower", "cavalcade", "centenary", "chandelier",
	"chinchilla", "chocolate", "chrysalis", "cinnamon", "citadel", "clarinet", "coefficient", "colander",
	"colonnade", "columnist", "combustion", "commodore", "comparison", "conductor", "confetti", "consulate",
	"cormorant", "cornucopia", "coyote", "crocodile", "crossroader", "cumbersome", "curiosity", "customary",
	"cylinder", "daffodil", "dandelion", "decathlon", "decipher", "dexterity", "diagonal", "dignitary",
	"dinosaur", "diplomat", "dirigible", "dragonfly", "dromedary", "dynamo", "editorial", "elephant",
	"embassy", "emporium", "enchilada", "envelope", "equator", "escapade", "estuary", "everglade",
	"excursion", "expedition", "fandango", "filament", "firecracker", "flamenco", "flamingo", "fluorescent",
	"forsythia", "fortunate", "foxglove", "frequency", "fricassee", "gallivant", "gardenia", "gazetteer",
	"generator", "geranium", "gondola", "gooseberry", "gorgonzola", "grenadier", "guacamole", "guitar",
	"gyroscope", "habitat", "harmonica", "harpsichord", "hedgehog", "hippopotamus", "hologram", "horizon",
	"hurricane", "hyacinth", "icicle", "illustrate", "incubator", "indigo", "infantry", "innovator",
	"insignia", "inventory", "island", "jackrabbit", "jamboree", "jellyfish", "kaleidoscope", "kilowatt",
	"komodo", "labyrinth", "lavender", "lemonade", "leopard", "liberty", "lighthouse", "limousine",
	"locomotive", "lullaby", "luminary", "macaroon", "magician", "magnolia", "mandolin", "marigold",
	"mariner", "marmalade", "masquerade", "matador", "maverick", "medallion", "megaphone", "meridian",
	"metronome", "midsummer", "millennium", "miniature", "molasses", "monastery", "mosquito", "mountaineer",
	"mulberry", "museum", "musketeer", "mustardseed", "narrator", "navigator", "nebula", "nectarine",
	"newspaper", "nightingale", "observatory", "obstacle", "octopus", "opossum", "oregano", "organism",
	"origami", "ornament", "outfielder", "overture", "pajamas", "palisade", "pantomime", "paradox",
	"parakeet", "pendulum", "peninsula", "peppermint", "percolator", "periscope", "permafrost", "petticoat",
	"phonograph", "photograph", "piccolo", "pineapple", "pinwheel", "pomegranate", "porcupine", "portfolio",
	"printer", "propeller", "protractor", "provision", "pyramid", "quadrant", "quarantine", "quicksilver",
	"radiator", "rhapsody", "rhinoceros", "rhubarb", "rigmarole", "rosemary", "salamander", "sarsaparilla",
	"saxophone", "scavenger", "secretary", "seminary", "serenade", "silhouette", "snorkel", "solarium",
	"sombrero", "spectator", "stalactite", "stowaway", "submarine", "sycamore", "symphony", "tambourine",
}
