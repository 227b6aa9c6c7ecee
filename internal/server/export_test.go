package server

// CodeFor exposes codeFor to the black-box tests.
var CodeFor = codeFor
