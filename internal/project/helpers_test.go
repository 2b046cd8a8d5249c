package project

func slack(id string) Block {
	return Block{Header: Header{ID: id, Type: TypeSlackMessage}, Slack: &SlackMessageSpec{Channel: "#releases"}}
}

func build(id string) Block {
	return Block{Header: Header{ID: id, Type: TypeTeamCityBuild}, TeamCity: &TeamCityBuildSpec{BuildConfigID: "Proj_Build"}}
}

func approval(id string) Block {
	return Block{Header: Header{ID: id, Type: TypeUserAction}, UserAction: &UserActionSpec{Instructions: "ok?", InputType: "CONFIRMATION"}}
}

func container(id string, g BlockGraph) Block {
	return Block{Header: Header{ID: id, Type: TypeContainer}, Container: &ContainerSpec{Graph: g}}
}

func seq(from, to string) BlockConnection {
	return BlockConnection{From: from, To: to, Type: Sequential}
}

func par(from, to string) BlockConnection {
	return BlockConnection{From: from, To: to, Type: Parallel}
}

func readsOutput(b Block, param, src, output string) Block {
	b.Parameters = append(b.Parameters, BlockParameter{
		Name:   param,
		Source: ParameterSource{Kind: SourceBlockOutput, Block: src, Output: output},
	})
	return b
}

func hasEdge(edges []Edge, from, to string, kind EdgeKind) bool {
	for _, e := range edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return true
		}
	}
	return false
}
