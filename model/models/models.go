package models

import (
	_ "github.com/ollama/treeserve/model/models/toy"
)
