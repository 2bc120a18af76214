package resources

var WriteTar = writeTar
