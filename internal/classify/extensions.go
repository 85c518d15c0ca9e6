package classify

import "strings"

// languageForExtension mirrors ccache's language_for_file: a source
// extension identifies both the language and, if the compilation is to be
// preprocessed first, the intermediate extension to use.
var languageForExtension = map[string]string{
	".c":   "c",
	".C":   "c++",
	".cc":  "c++",
	".CC":  "c++",
	".cpp": "c++",
	".CPP": "c++",
	".cxx": "c++",
	".CXX": "c++",
	".c++": "c++",
	".C++": "c++",
	".i":   "cpp-output",
	".ii":  "c++-cpp-output",
	".mi":  "objc-cpp-output",
	".mii": "objc++-cpp-output",
	".m":   "objective-c",
	".M":   "objective-c++",
	".mm":  "objective-c++",
}

// preprocessedExtensionForLanguage mirrors ccache's i_extension_for_language:
// the extension the preprocessor's output should carry for each language.
var preprocessedExtensionForLanguage = map[string]string{
	"c":                 ".i",
	"c++":               ".ii",
	"objective-c":       ".mi",
	"objective-c++":     ".mii",
	"cpp-output":        ".i",
	"c++-cpp-output":    ".ii",
	"objc-cpp-output":   ".mi",
	"objc++-cpp-output": ".mii",
}

// languagesAlreadyPreprocessed holds languages whose source is itself a
// preprocessor output (".i", ".ii", ...): these never run through the
// preprocessor again.
var languagesAlreadyPreprocessed = map[string]bool{
	"cpp-output":        true,
	"c++-cpp-output":    true,
	"objc-cpp-output":   true,
	"objc++-cpp-output": true,
}

func LanguageForFile(fileName string) (lang string, ok bool) {
	ext := extensionOf(fileName)
	lang, ok = languageForExtension[ext]
	return
}

func LanguageIsSupported(lang string) bool {
	for _, known := range languageForExtension {
		if known == lang {
			return true
		}
	}
	return languagesAlreadyPreprocessed[lang]
}

func LanguageIsPreprocessed(lang string) bool {
	return languagesAlreadyPreprocessed[lang]
}

func PreprocessedExtensionForLanguage(lang string) string {
	if ext, ok := preprocessedExtensionForLanguage[lang]; ok {
		return ext
	}
	return ".i"
}

// cppOutputLanguageFor maps a source language to the -x name its
// already-preprocessed form is compiled under.
var cppOutputLanguageFor = map[string]string{
	"c":             "cpp-output",
	"c++":           "c++-cpp-output",
	"objective-c":   "objc-cpp-output",
	"objective-c++": "objc++-cpp-output",
}

// CppOutputLanguageFor returns the -x LANG value to use when compiling lang's
// preprocessed output directly instead of re-reading the original source.
func CppOutputLanguageFor(lang string) (string, bool) {
	v, ok := cppOutputLanguageFor[lang]
	return v, ok
}

func extensionOf(fileName string) string {
	idx := strings.LastIndexByte(fileName, '.')
	if idx < 0 {
		return ""
	}
	return fileName[idx:]
}
